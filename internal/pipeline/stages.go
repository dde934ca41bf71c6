package pipeline

import (
	"context"
	"fmt"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"github.com/shpitdev/sf-graffiti-search/internal/store"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/schema"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
)

// DescribeStage adds one record per undescribed source row. A failed description still adds the
// record, with the placeholder text, so it is never requested again.
func DescribeStage(rows []source.Record, st *store.Store, d enrich.Describer) Stage[source.Record, enrich.Description] {
	return Stage[source.Record, enrich.Description]{
		Name: string(schema.StageDescribe),
		Resolve: func() []source.Record {
			return UnprocessedForDescription(rows, st)
		},
		Key: func(r source.Record) string { return r.ExternalID },
		Process: core.ProcessFunc[source.Record, enrich.Description](func(ctx context.Context, r source.Record) (enrich.Description, error) {
			return enrich.DescribeImage(enrich.WithRecordID(ctx, r.ExternalID), d, r.MediaURL)
		}),
		Merge: func(res worker.Result[source.Record, enrich.Description]) (bool, error) {
			desc := res.Output
			ok := res.Err == nil && !desc.IsPlaceholder()
			if !ok || (desc.Title == "" && desc.Analysis == "") {
				desc = enrich.Placeholder()
				ok = false
			}
			if err := st.Add(BuildRecord(res.Input, desc)); err != nil {
				return false, err
			}
			return ok, nil
		},
	}
}

// GeocodeOutcome is the result of one geocode request.
type GeocodeOutcome struct {
	Coordinates enrich.Coordinates
	Found       bool
}

// GeocodeStage fills in coordinates for stored records that lack them. Title and analysis are
// never touched. With maxAttempts > 0 each miss is counted on the record.
func GeocodeStage(st *store.Store, g enrich.Geocoder, maxAttempts int) Stage[store.Record, GeocodeOutcome] {
	return Stage[store.Record, GeocodeOutcome]{
		Name: string(schema.StageGeocode),
		Resolve: func() []store.Record {
			return UnprocessedForGeocode(st, maxAttempts)
		},
		Key: func(r store.Record) string { return r.ID },
		Process: core.ProcessFunc[store.Record, GeocodeOutcome](func(ctx context.Context, r store.Record) (GeocodeOutcome, error) {
			c, found, err := enrich.GeocodeAddress(enrich.WithRecordID(ctx, r.ID), g, geocodeAddress(r))
			return GeocodeOutcome{Coordinates: c, Found: found}, err
		}),
		Merge: func(res worker.Result[store.Record, GeocodeOutcome]) (bool, error) {
			id := res.Input.ID
			if res.Err == nil && res.Output.Found {
				c := res.Output.Coordinates
				if err := st.SetCoordinates(id, c.Latitude, c.Longitude); err != nil {
					return false, fmt.Errorf("set coordinates: %w", err)
				}
				return true, nil
			}
			if maxAttempts > 0 {
				if _, err := st.RecordGeocodeFailure(id); err != nil {
					return false, err
				}
			}
			return false, nil
		},
	}
}
