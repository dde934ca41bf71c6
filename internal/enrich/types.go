package enrich

import (
	"context"
	"errors"
	"strings"
)

const (
	// FallbackTitle is used when the description service answers without a TITLE: line.
	FallbackTitle = "Graffiti"

	PlaceholderTitle    = "Analysis failed"
	PlaceholderAnalysis = "Could not analyze image"
)

// ErrEmptyResponse means the description service returned no text at all.
var ErrEmptyResponse = errors.New("empty description response")

// Description is the outcome of the description stage for one image.
type Description struct {
	Title    string
	Analysis string
}

// Placeholder is the deterministic description stored when the service call fails.
func Placeholder() Description {
	return Description{Title: PlaceholderTitle, Analysis: PlaceholderAnalysis}
}

func (d Description) IsPlaceholder() bool {
	return d == Placeholder()
}

// Describer produces a title and analysis for one image.
type Describer interface {
	Describe(ctx context.Context, mediaURL string) (Description, error)
}

// DescriberFunc adapts a function to the Describer interface.
type DescriberFunc func(ctx context.Context, mediaURL string) (Description, error)

func (f DescriberFunc) Describe(ctx context.Context, mediaURL string) (Description, error) {
	return f(ctx, mediaURL)
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a free-text address. found=false with a nil error means the service had
// no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (coords Coordinates, found bool, err error)
}

// GeocoderFunc adapts a function to the Geocoder interface.
type GeocoderFunc func(ctx context.Context, address string) (Coordinates, bool, error)

func (f GeocoderFunc) Geocode(ctx context.Context, address string) (Coordinates, bool, error) {
	return f(ctx, address)
}

// DescribeImage always yields a usable description: on any failure the placeholder is returned
// together with the cause, so callers can record the record as done and still count the failure.
func DescribeImage(ctx context.Context, d Describer, mediaURL string) (Description, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return Placeholder(), errors.New("empty media url")
	}
	out, err := d.Describe(ctx, mediaURL)
	if err != nil {
		return Placeholder(), err
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Analysis = strings.TrimSpace(out.Analysis)
	if out.Title == "" && out.Analysis == "" {
		return Placeholder(), ErrEmptyResponse
	}
	if out.Title == "" {
		out.Title = FallbackTitle
	}
	return out, nil
}

// GeocodeAddress returns found=false whenever no coordinates came back, with err set when that
// was because of a failure rather than a plain miss.
func GeocodeAddress(ctx context.Context, g Geocoder, address string) (Coordinates, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Coordinates{}, false, nil
	}
	c, found, err := g.Geocode(ctx, address)
	if err != nil {
		return Coordinates{}, false, err
	}
	if !found {
		return Coordinates{}, false, nil
	}
	return c, true, nil
}

type recordIDKey struct{}

// WithRecordID tags ctx with the id of the record a request is made for.
func WithRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recordIDKey{}, id)
}

// RecordID returns the id stored by WithRecordID, or "".
func RecordID(ctx context.Context) string {
	id, _ := ctx.Value(recordIDKey{}).(string)
	return id
}
