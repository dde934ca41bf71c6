package schema

import (
	"fmt"
	"strings"
)

// Stage names one enrichment pass over the record store.
type Stage string

const (
	StageDescribe Stage = "describe"
	StageGeocode  Stage = "geocode"
)

// Field captures the behavior-relevant shape of one persisted record field.
type Field struct {
	Name string
	// Stage is the pass that populates the field; empty for fields copied from the source row.
	Stage    Stage
	Optional bool
}

// RecordFields is the persisted record contract consumed by the read-only serving layer.
// Fields are only ever added to this list.
var RecordFields = []Field{
	{Name: "id"},
	{Name: "url"},
	{Name: "address"},
	{Name: "location"},
	{Name: "originalComment"},
	{Name: "actionTaken", Optional: true},
	{Name: "aiTitle", Stage: StageDescribe},
	{Name: "aiAnalysis", Stage: StageDescribe},
	{Name: "metadata", Stage: StageDescribe},
	{Name: "latitude", Stage: StageGeocode, Optional: true},
	{Name: "longitude", Stage: StageGeocode, Optional: true},
	{Name: "geocodeAttempts", Stage: StageGeocode, Optional: true},
}

// ParseStage accepts the canonical stage names plus a few aliases.
func ParseStage(raw string) (Stage, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "describe", "description", "descriptions", "process":
		return StageDescribe, nil
	case "geocode", "geocoding":
		return StageGeocode, nil
	default:
		return "", fmt.Errorf("unknown stage %q (want describe|geocode)", raw)
	}
}

// Required returns the names of fields every persisted record must carry.
func Required() []string {
	out := make([]string, 0, len(RecordFields))
	for _, f := range RecordFields {
		if !f.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}
