package event

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldMapping lists, per Event field, the source field names to try in order.
type FieldMapping struct {
	ID          []string `yaml:"id"`
	Name        []string `yaml:"name"`
	Description []string `yaml:"description"`
	Locality    []string `yaml:"locality"`
	Address     []string `yaml:"address"`
	PostalCode  []string `yaml:"postal_code"`
	Contacts    []string `yaml:"contacts"`
	StartsAt    []string `yaml:"starts_at"`
	EndsAt      []string `yaml:"ends_at"`
	Latitude    []string `yaml:"latitude"`
	Longitude   []string `yaml:"longitude"`
	Geometry    []string `yaml:"geometry"`
	WKB         []string `yaml:"wkb"`
	Coordinates []string `yaml:"coordinates"`
	LatLon      []string `yaml:"lat_lon"`
}

// DefaultMapping covers the DATAtourisme export columns plus common English
// and OpenDataSoft names.
func DefaultMapping() FieldMapping {
	return FieldMapping{
		ID:          []string{"uri", "external_id", "id", "identifier", "uid"},
		Name:        []string{"nom", "name", "title", "label"},
		Description: []string{"description", "desc", "summary"},
		Locality:    []string{"commune", "locality", "city", "ville", "town"},
		Address:     []string{"adresse", "address", "street"},
		PostalCode:  []string{"code_postal", "postal_code", "postcode", "zip"},
		Contacts:    []string{"contacts", "contact", "url", "website"},
		StartsAt:    []string{"date_debut", "starts_at", "start_date", "begin", "start"},
		EndsAt:      []string{"date_fin", "ends_at", "end_date", "end"},
		Latitude:    []string{"latitude", "lat"},
		Longitude:   []string{"longitude", "lon", "lng", "long"},
		Geometry:    []string{"geometry", "geom", "wkt", "the_geom"},
		WKB:         []string{"geom", "geometry", "the_geom", "wkb", "geom_wkb"},
		Coordinates: []string{"coordinates", "geometry"},
		LatLon:      []string{"geo_point_2d", "latlon", "lat_lon"},
	}
}

// LoadMapping reads a YAML mapping file. Fields absent from the file keep
// their default aliases.
func LoadMapping(path string) (FieldMapping, error) {
	m := DefaultMapping()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, eris.Wrapf(err, "event: read mapping %s", path)
	}
	var override FieldMapping
	if err := yaml.Unmarshal(data, &override); err != nil {
		return m, eris.Wrapf(err, "event: parse mapping %s", path)
	}
	m.merge(override)
	return m, nil
}

func (m *FieldMapping) merge(o FieldMapping) {
	set := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	set(&m.ID, o.ID)
	set(&m.Name, o.Name)
	set(&m.Description, o.Description)
	set(&m.Locality, o.Locality)
	set(&m.Address, o.Address)
	set(&m.PostalCode, o.PostalCode)
	set(&m.Contacts, o.Contacts)
	set(&m.StartsAt, o.StartsAt)
	set(&m.EndsAt, o.EndsAt)
	set(&m.Latitude, o.Latitude)
	set(&m.Longitude, o.Longitude)
	set(&m.Geometry, o.Geometry)
	set(&m.WKB, o.WKB)
	set(&m.Coordinates, o.Coordinates)
	set(&m.LatLon, o.LatLon)
}
