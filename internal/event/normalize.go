package event

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer converts raw records into Events. It holds only immutable
// configuration and is safe for concurrent use.
type Normalizer struct {
	mapping    FieldMapping
	strategies []CoordinateStrategy
}

// NewNormalizer builds a Normalizer for the given field mapping using the
// default strategy order.
func NewNormalizer(m FieldMapping) *Normalizer {
	return &Normalizer{mapping: m, strategies: DefaultStrategies(m)}
}

// WithStrategies replaces the coordinate extraction order.
func (n *Normalizer) WithStrategies(s ...CoordinateStrategy) *Normalizer {
	return &Normalizer{mapping: n.mapping, strategies: s}
}

// Normalize validates rec and converts it to an Event. Checks run in order:
// coordinates, dates, identifier. The first failing check decides the reason.
func (n *Normalizer) Normalize(rec RawRecord) (Event, *Rejection) {
	loc, ok := n.extractPoint(rec)
	if !ok {
		return Event{}, reject(MissingCoordinates, "no parseable coordinates")
	}
	if rej := ValidatePoint(loc); rej != nil {
		return Event{}, rej
	}

	startRaw, _ := rec.Lookup(n.mapping.StartsAt)
	startsAt, ok := ParseDate(startRaw)
	if !ok {
		return Event{}, reject(InvalidDate, "start date %q", startRaw)
	}

	ev := Event{StartsAt: startsAt, Location: loc}

	if endRaw, present := rec.Lookup(n.mapping.EndsAt); present {
		end, ok := ParseDate(endRaw)
		if !ok {
			return Event{}, reject(InvalidDate, "end date %q", endRaw)
		}
		if end.Before(startsAt) {
			return Event{}, reject(InconsistentDateRange, "ends %s before start %s",
				end.Format("2006-01-02"), startsAt.Format("2006-01-02"))
		}
		ev.EndsAt = &end
	}

	id, ok := rec.Lookup(n.mapping.ID)
	if !ok {
		return Event{}, reject(MissingIdentifier, "empty identifier")
	}
	ev.ExternalID = id

	ev.Name, _ = rec.Lookup(n.mapping.Name)
	ev.Description, _ = rec.Lookup(n.mapping.Description)
	ev.Address, _ = rec.Lookup(n.mapping.Address)
	ev.PostalCode, _ = rec.Lookup(n.mapping.PostalCode)
	ev.Contacts, _ = rec.Lookup(n.mapping.Contacts)
	if locality, ok := rec.Lookup(n.mapping.Locality); ok {
		ev.Locality = NormalizeLocality(locality)
	}

	payload, err := rec.Payload()
	if err != nil {
		// Values that cannot round-trip through JSON are kept as their text form.
		payload, _ = stringify(rec).Payload()
	}
	ev.RawPayload = payload

	return ev, nil
}

func (n *Normalizer) extractPoint(rec RawRecord) (Point, bool) {
	for _, s := range n.strategies {
		if p, ok := s.Extract(rec); ok {
			return p, true
		}
	}
	return Point{}, false
}

// NormalizeLocality collapses whitespace and title-cases a place name so that
// "TOULOUSE", "toulouse " and "Toulouse" aggregate together.
func NormalizeLocality(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Title(language.French).String(s)
}

func stringify(rec RawRecord) RawRecord {
	out := make(RawRecord, len(rec))
	for k, v := range rec {
		out[k] = valueString(v)
	}
	return out
}
