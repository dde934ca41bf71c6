package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	localio "github.com/shpitdev/sf-graffiti-search/pkg/pipeline/io/local"
)

// Store is the in-memory record collection backed by a single JSON array file.
//
// Store is not safe for concurrent use; the pipeline driver is its only writer.
type Store struct {
	path    string
	perm    os.FileMode
	records []*Record
	index   map[string]int

	// wrapWriter lets tests interpose on the checkpoint stream.
	wrapWriter func(io.Writer) io.Writer
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		perm:  0o644,
		index: make(map[string]int),
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		s.perm = info.Mode().Perm()
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return s, nil
	}

	var recs []*Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (run the repair command)", ErrCorrupt, path, err)
	}
	for _, r := range recs {
		if r == nil {
			continue
		}
		if _, dup := s.index[r.ID]; dup {
			// Keep the first occurrence; a later duplicate can only come from a hand edit.
			continue
		}
		s.index[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int { return len(s.records) }

func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return *s.records[i], true
}

// Records returns a copy of every record in store order.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// Counts returns how many records carry descriptions and coordinates.
func (s *Store) Counts() (described, geocoded int) {
	for _, r := range s.records {
		if r.Described() {
			described++
		}
		if r.HasCoordinates() {
			geocoded++
		}
	}
	return described, geocoded
}

// Add appends a new record. Existing ids are never overwritten.
func (s *Store) Add(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("add record: empty id")
	}
	if _, dup := s.index[r.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	rec := r
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, &rec)
	return nil
}

// SetCoordinates records a successful geocode. No other field of the record changes.
func (s *Store) SetCoordinates(id string, lat, lon float64) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r := s.records[i]
	r.Latitude = &lat
	r.Longitude = &lon
	r.GeocodeAttempts = 0
	return nil
}

// RecordGeocodeFailure bumps the failed-attempt counter of id and returns the new count.
func (s *Store) RecordGeocodeFailure(id string) (int, error) {
	i, ok := s.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.records[i].GeocodeAttempts++
	return s.records[i].GeocodeAttempts, nil
}

// Encode writes the store as a two-space indented JSON array.
func (s *Store) Encode(w io.Writer) error {
	return encodeRecords(w, s.records)
}

// Save atomically replaces the backing file with the current snapshot. Failure returns a
// *PersistenceError and leaves the previous file intact.
func (s *Store) Save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &PersistenceError{Path: s.path, Err: err}
		}
	}
	err := localio.WriteFileAtomic(s.path, s.perm, func(w io.Writer) error {
		if s.wrapWriter != nil {
			w = s.wrapWriter(w)
		}
		return s.Encode(w)
	})
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

func encodeRecords[T any](w io.Writer, recs []T) error {
	if recs == nil {
		recs = []T{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}
