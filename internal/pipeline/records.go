package pipeline

import (
	"strings"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"github.com/shpitdev/sf-graffiti-search/internal/store"
)

const (
	unknownText = "Unknown"
	noneText    = "None"
)

// BuildRecord turns a source row and its description into the persisted record.
func BuildRecord(src source.Record, d enrich.Description) store.Record {
	return store.Record{
		ID:              src.ExternalID,
		URL:             src.MediaURL,
		Address:         orDefault(src.Address, unknownText),
		Location:        orDefault(src.Location, unknownText),
		OriginalComment: src.Remark,
		ActionTaken:     src.Disposition,
		AITitle:         d.Title,
		AIAnalysis:      d.Analysis,
		Metadata:        Metadata(src, d),
	}
}

// Metadata is the text the serving layer searches over. It is computed once, when the record
// is described, and never rewritten.
func Metadata(src source.Record, d enrich.Description) string {
	return strings.Join([]string{
		"Title: " + d.Title,
		"Address: " + orDefault(src.Address, unknownText),
		"Location on building: " + orDefault(src.Location, unknownText),
		"Original comment: " + orDefault(src.Remark, noneText),
		"AI Analysis: " + d.Analysis,
		"Action taken: " + orDefault(src.Disposition, noneText),
	}, "\n")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// geocodeAddress is the address sent for geocoding, or "" when the record has none.
func geocodeAddress(r store.Record) string {
	a := strings.TrimSpace(r.Address)
	if strings.EqualFold(a, unknownText) {
		return ""
	}
	return a
}
