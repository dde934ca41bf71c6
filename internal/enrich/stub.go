package enrich

import (
	"context"
	"errors"
	"hash/fnv"
	"path"
	"strings"
)

// Stub is an offline Describer and Geocoder with deterministic answers, for dry runs and tests.
type Stub struct {
	// FailURLs and FailAddresses force errors for specific inputs.
	FailURLs      map[string]bool
	FailAddresses map[string]bool
	// Misses lists addresses that resolve to no match.
	Misses map[string]bool
}

var (
	_ Describer = (*Stub)(nil)
	_ Geocoder  = (*Stub)(nil)
)

func (s *Stub) Describe(ctx context.Context, mediaURL string) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}
	if s.FailURLs[mediaURL] {
		return Description{}, errors.New("stub: forced description failure")
	}
	name := strings.TrimSuffix(path.Base(mediaURL), path.Ext(mediaURL))
	return Description{
		Title:    "Graffiti tag " + name,
		Analysis: "Stub analysis of " + mediaURL + ".",
	}, nil
}

// Geocode places every address at a stable point inside San Francisco.
func (s *Stub) Geocode(ctx context.Context, address string) (Coordinates, bool, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, false, err
	}
	if s.FailAddresses[address] {
		return Coordinates{}, false, errors.New("stub: forced geocode failure")
	}
	if s.Misses[address] || strings.EqualFold(strings.TrimSpace(address), "unknown") {
		return Coordinates{}, false, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(address))))
	v := h.Sum64()
	lat := 37.70 + float64(v%10000)/10000*0.11
	lon := -122.51 + float64((v/10000)%10000)/10000*0.15
	return Coordinates{Latitude: lat, Longitude: lon}, true, nil
}
