package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	localio "github.com/shpitdev/sf-graffiti-search/pkg/pipeline/io/local"
)

// RepairResult describes what Repair did to a store file.
type RepairResult struct {
	Path       string
	BackupPath string
	Recovered  int
	// DiscardedBytes is the size of the tail dropped after the last complete record.
	DiscardedBytes int64
	AlreadyValid   bool
}

// Repair recovers a store file whose tail was cut off by an interrupted write. Records are
// decoded one at a time until the first incomplete one; the original file is copied to
// <path>.backup and the recovered records are written back atomically.
//
// A file that already parses is left alone.
func Repair(path string) (RepairResult, error) {
	res := RepairResult{Path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read store: %w", err)
	}

	var whole []json.RawMessage
	if json.Unmarshal(b, &whole) == nil {
		res.AlreadyValid = true
		res.Recovered = len(whole)
		return res, nil
	}

	recs, end, err := recoverRecords(b)
	if err != nil {
		return res, err
	}
	res.Recovered = len(recs)
	res.DiscardedBytes = int64(len(b)) - end

	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	res.BackupPath = path + ".backup"
	if err := localio.WriteFileAtomic(res.BackupPath, perm, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}); err != nil {
		return res, fmt.Errorf("write backup: %w", err)
	}
	if err := localio.WriteFileAtomic(path, perm, func(w io.Writer) error {
		return encodeRecords(w, recs)
	}); err != nil {
		return res, &PersistenceError{Path: path, Err: err}
	}
	return res, nil
}

// recoverRecords returns every complete record of a truncated array and the offset just past
// the last one.
func recoverRecords(b []byte) ([]*Record, int64, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: no JSON array start found", ErrCorrupt)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, 0, fmt.Errorf("%w: top-level value is not an array", ErrCorrupt)
	}

	recs := []*Record{}
	end := dec.InputOffset()
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			var syn *json.SyntaxError
			// A file cut right after a separator reports a bare io.EOF.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &syn) {
				break
			}
			var typ *json.UnmarshalTypeError
			if errors.As(err, &typ) {
				// A complete element of the wrong shape ends recovery just like a torn one.
				break
			}
			return nil, 0, fmt.Errorf("decode record %d: %w", len(recs), err)
		}
		recs = append(recs, &r)
		end = dec.InputOffset()
	}
	return recs, end, nil
}
