package source

import (
	"fmt"
	"strings"

	localio "github.com/shpitdev/sf-graffiti-search/pkg/pipeline/io/local"
)

// Record is one accepted row of the photo table.
type Record struct {
	ExternalID  string
	MediaURL    string
	Address     string
	Location    string
	Remark      string
	Disposition string
}

// Columns maps record fields to header names of the source table.
type Columns struct {
	ID          string `yaml:"id"`
	Media       string `yaml:"media"`
	Address     string `yaml:"address"`
	Location    string `yaml:"location"`
	Remark      string `yaml:"remark"`
	Disposition string `yaml:"disposition"`
}

// DefaultColumns matches the city's graffiti service-request export.
func DefaultColumns() Columns {
	return Columns{
		ID:          "noid",
		Media:       "cdn_url",
		Address:     "full_address",
		Location:    "locationonbuilding",
		Remark:      "comment",
		Disposition: "actiontaken",
	}
}

// WithDefaults fills unset column names from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = d.ID
	}
	if strings.TrimSpace(c.Media) == "" {
		c.Media = d.Media
	}
	if strings.TrimSpace(c.Address) == "" {
		c.Address = d.Address
	}
	if strings.TrimSpace(c.Location) == "" {
		c.Location = d.Location
	}
	if strings.TrimSpace(c.Remark) == "" {
		c.Remark = d.Remark
	}
	if strings.TrimSpace(c.Disposition) == "" {
		c.Disposition = d.Disposition
	}
	return c
}

type Stats struct {
	Rows           int
	Accepted       int
	DroppedNoMedia int
	DroppedNoID    int
	Malformed      int
	Duplicates     int
}

// MissingColumnError means the header lacks a column the reader cannot work without.
type MissingColumnError struct {
	Field  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("source table is missing the %s column %q", e.Field, e.Column)
}

// ReadFile reads path (CSV or XLSX by extension) into records in table order.
func ReadFile(path string, cols Columns) ([]Record, Stats, error) {
	tbl, err := localio.ReadFile(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read source table %s: %w", path, err)
	}
	return FromTable(tbl, cols)
}

// FromTable converts table rows into records. Rows without a media URL or id are dropped;
// for repeated ids the first row wins. Neither case is an error.
func FromTable(tbl *localio.Table, cols Columns) ([]Record, Stats, error) {
	cols = cols.WithDefaults()
	st := Stats{Rows: len(tbl.Rows) + tbl.Malformed, Malformed: tbl.Malformed}

	idIdx := tbl.Index(cols.ID)
	if idIdx < 0 {
		return nil, st, &MissingColumnError{Field: "id", Column: cols.ID}
	}
	mediaIdx := tbl.Index(cols.Media)
	if mediaIdx < 0 {
		return nil, st, &MissingColumnError{Field: "media", Column: cols.Media}
	}
	addrIdx := tbl.Index(cols.Address)
	locIdx := tbl.Index(cols.Location)
	remarkIdx := tbl.Index(cols.Remark)
	dispIdx := tbl.Index(cols.Disposition)

	seen := make(map[string]struct{}, len(tbl.Rows))
	out := make([]Record, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		get := func(idx int) string {
			return strings.TrimSpace(row.Get(idx))
		}
		rec := Record{
			ExternalID:  get(idIdx),
			MediaURL:    get(mediaIdx),
			Address:     get(addrIdx),
			Location:    get(locIdx),
			Remark:      get(remarkIdx),
			Disposition: get(dispIdx),
		}
		if rec.MediaURL == "" {
			st.DroppedNoMedia++
			continue
		}
		if rec.ExternalID == "" {
			st.DroppedNoID++
			continue
		}
		if _, dup := seen[rec.ExternalID]; dup {
			st.Duplicates++
			continue
		}
		seen[rec.ExternalID] = struct{}{}
		out = append(out, rec)
	}
	st.Accepted = len(out)
	return out, st, nil
}
