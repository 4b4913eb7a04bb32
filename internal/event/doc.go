// Package event defines the canonical catalog Event and the Normalizer that
// turns heterogeneous raw records into Events or per-record rejections.
//
// Normalization is pure: no I/O, no clock, and the same RawRecord always
// yields the same result.
package event
