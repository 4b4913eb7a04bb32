package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-events/internal/search"
)

// nearbyParams is the bound query of GET /api/events/nearby.
type nearbyParams struct {
	Lat      *float64 `query:"lat" validate:"required,min=-90,max=90"`
	Lon      *float64 `query:"lon" validate:"required,min=-180,max=180"`
	RadiusKm float64  `query:"radiusKm" validate:"gt=0,lte=20038"`
	Days     int      `query:"days" validate:"gt=0,lte=3660"`
	Limit    int      `query:"limit" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// bindNearby reads the query string, applying defaults for radiusKm and days.
func bindNearby(r *http.Request, defaults search.Config) (nearbyParams, error) {
	q := r.URL.Query()
	p := nearbyParams{RadiusKm: defaults.DefaultRadiusKm, Days: defaults.DefaultDays}

	var err error
	if p.Lat, err = optionalFloat(q.Get("lat"), "lat"); err != nil {
		return p, err
	}
	if p.Lon, err = optionalFloat(q.Get("lon"), "lon"); err != nil {
		return p, err
	}
	if v := q.Get("radiusKm"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return p, eris.Errorf("radiusKm: %q is not a number", v)
		}
		p.RadiusKm = f
	}
	if p.Days, err = intParam(q.Get("days"), "days", p.Days); err != nil {
		return p, err
	}
	if p.Limit, err = intParam(q.Get("limit"), "limit", 0); err != nil {
		return p, err
	}

	if err := validate.Struct(p); err != nil {
		return p, describe(err)
	}
	return p, nil
}

func optionalFloat(v, name string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil, eris.Errorf("%s: %q is not a number", name, v)
	}
	return &f, nil
}

func intParam(v, name string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, eris.Errorf("%s: %q is not an integer", name, v)
	}
	return n, nil
}

// describe renders validator errors as "field rule" pairs.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return eris.New(strings.Join(msgs, "; "))
}
