package pipeline

import (
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"github.com/shpitdev/sf-graffiti-search/internal/store"
)

// UnprocessedForDescription returns the source records whose id is not in the store yet, in
// table order.
func UnprocessedForDescription(src []source.Record, st *store.Store) []source.Record {
	var out []source.Record
	for _, r := range src {
		if r.MediaURL == "" || st.Has(r.ExternalID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// UnprocessedForGeocode returns the stored records without coordinates, in store order.
// Records with no usable address are never geocoded and are not returned.
//
// Failed geocodes stay unprocessed and are retried on later runs. With maxAttempts > 0, records
// that have failed that many times are left alone.
func UnprocessedForGeocode(st *store.Store, maxAttempts int) []store.Record {
	var out []store.Record
	for _, r := range st.Records() {
		if r.HasCoordinates() || geocodeAddress(r) == "" {
			continue
		}
		if maxAttempts > 0 && r.GeocodeAttempts >= maxAttempts {
			continue
		}
		out = append(out, r)
	}
	return out
}
