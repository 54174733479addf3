package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/file"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

// Extensions of the copies kept next to the jobs file before it is
// overwritten: a legacy-map file before migration, and a file that could
// not be fully read before the first save replaces it.
const (
	LegacyBackupExt  = ".legacy.json"
	CorruptBackupExt = ".corrupt.json"
)

// JSONFile stores job records as an indented JSON array. It also reads the
// older object-keyed-by-id shape and reports it as tracker.FormatLegacyMap.
type JSONFile struct {
	path string

	mu sync.Mutex
	// damaged is set when the last Load failed or dropped entries; the next
	// Save first copies the file aside.
	damaged bool
}

func NewJSONFile(path string) (*JSONFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("jobs file path is required")
	}
	return &JSONFile{path: path}, nil
}

func (f *JSONFile) Path() string {
	return f.path
}

func (f *JSONFile) Load(_ context.Context) (tracker.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.damaged = false
			return tracker.Snapshot{Format: tracker.FormatMissing}, nil
		}
		f.damaged = true
		return tracker.Snapshot{}, fmt.Errorf("read jobs file: %w", err)
	}
	snap, err := DecodeRecords(data)
	if err != nil {
		f.damaged = true
		return tracker.Snapshot{}, fmt.Errorf("parse jobs file %s: %w", f.path, err)
	}
	f.damaged = snap.Dropped > 0
	return snap, nil
}

func (f *JSONFile) Save(_ context.Context, jobs []tracker.Job) error {
	content, err := EncodeRecords(jobs)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.damaged {
		if err := f.preserveLocked(); err != nil {
			return err
		}
		f.damaged = false
	}
	return writeFileAtomic(f.path, content)
}

// preserveLocked copies the current file to CorruptPath. A file that has
// disappeared meanwhile needs no copy.
func (f *JSONFile) preserveLocked() error {
	original, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keep copy of unreadable jobs file: %w", err)
	}
	if err := writeFileAtomic(f.CorruptPath(), original); err != nil {
		return fmt.Errorf("keep copy of unreadable jobs file: %w", err)
	}
	log.Warn("Kept a copy of the unreadable jobs file at %s", f.CorruptPath())
	return nil
}

// Migrate keeps a copy of the legacy file next to it, then writes jobs in
// array form.
func (f *JSONFile) Migrate(ctx context.Context, jobs []tracker.Job) error {
	original, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read legacy jobs file: %w", err)
	}
	if err := writeFileAtomic(f.BackupPath(), original); err != nil {
		return fmt.Errorf("back up legacy jobs file: %w", err)
	}
	return f.Save(ctx, jobs)
}

func (f *JSONFile) BackupPath() string {
	return file.ReplaceExt(f.path, LegacyBackupExt)
}

func (f *JSONFile) CorruptPath() string {
	return file.ReplaceExt(f.path, CorruptBackupExt)
}

// EncodeRecords renders jobs as a two-space indented JSON array.
func EncodeRecords(jobs []tracker.Job) ([]byte, error) {
	if jobs == nil {
		jobs = []tracker.Job{}
	}
	content, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode job records: %w", err)
	}
	return append(content, '\n'), nil
}

// DecodeRecords detects the top-level shape of data and decodes it.
func DecodeRecords(data []byte) (tracker.Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return tracker.Snapshot{}, fmt.Errorf("empty document")
	}

	switch trimmed[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return tracker.Snapshot{}, err
		}
		jobs := make([]tracker.Job, 0, len(entries))
		dropped := 0
		for _, raw := range entries {
			job, ok := decodeRecord(raw)
			if !ok {
				dropped++
				continue
			}
			jobs = append(jobs, job)
		}
		return tracker.Snapshot{Jobs: jobs, Format: tracker.FormatArray, Dropped: dropped}, nil
	case '{':
		jobs, dropped, err := decodeLegacyMap(trimmed)
		if err != nil {
			return tracker.Snapshot{}, err
		}
		return tracker.Snapshot{Jobs: jobs, Format: tracker.FormatLegacyMap, Dropped: dropped}, nil
	default:
		return tracker.Snapshot{}, fmt.Errorf("unsupported top-level JSON value starting with %q", trimmed[0])
	}
}

// decodeRecord decodes one stored entry. Only JSON objects are records.
func decodeRecord(raw json.RawMessage) (tracker.Job, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return tracker.Job{}, false
	}
	var job tracker.Job
	if err := job.UnmarshalJSON(trimmed); err != nil {
		return tracker.Job{}, false
	}
	return job, true
}

type legacyEntry struct {
	key   string
	order int
	job   tracker.Job
}

// decodeLegacyMap returns the object's values in property enumeration
// order: array-index keys ascending, then the remaining keys in document
// order. A repeated key keeps its first position and its last value.
// Values that are not objects are skipped and counted in dropped.
func decodeLegacyMap(data []byte) (jobs []tracker.Job, dropped int, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, 0, err
	}

	entries := make([]*legacyEntry, 0)
	byKey := make(map[string]*legacyEntry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, 0, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, 0, fmt.Errorf("unexpected object key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, 0, fmt.Errorf("decode record %q: %w", key, err)
		}
		job, ok := decodeRecord(raw)
		if !ok {
			dropped++
			continue
		}
		if existing, ok := byKey[key]; ok {
			existing.job = job
			continue
		}
		entry := &legacyEntry{key: key, order: len(entries), job: job}
		entries = append(entries, entry)
		byKey[key] = entry
	}
	if _, err := dec.Token(); err != nil {
		return nil, 0, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, 0, fmt.Errorf("unexpected data after legacy object")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ni, iIdx := arrayIndex(entries[i].key)
		nj, jIdx := arrayIndex(entries[j].key)
		switch {
		case iIdx && jIdx:
			return ni < nj
		case iIdx != jIdx:
			return iIdx
		default:
			return entries[i].order < entries[j].order
		}
	})

	jobs = make([]tracker.Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.job)
	}
	return jobs, dropped, nil
}

// arrayIndex reports whether key is a canonical array index (0 .. 2^32-2).
func arrayIndex(key string) (uint64, bool) {
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	if strconv.FormatUint(n, 10) != key {
		return 0, false
	}
	return n, true
}

// writeFileAtomic writes content to a sibling temp file and renames it over
// path, so readers see either the old or the new document.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
