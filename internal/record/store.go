package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/uiforensics/elementcap/internal/protocol"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// DefaultMaxRecords bounds the store when no explicit capacity is given.
const DefaultMaxRecords = 1000

// Store persists records as a JSON file plus a PNG sidecar per record.
type Store struct {
	dir string
	max int
	mu  sync.RWMutex
}

// NewStore creates a store rooted at dir and ensures the directory exists.
// maxRecords <= 0 selects the default capacity.
func NewStore(dir string, maxRecords int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record store: mkdir %s: %w", dir, err)
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Store{dir: dir, max: maxRecords}, nil
}

// validate rejects records the external schema would not accept. Capacity is
// checked separately so the two failure modes stay distinguishable.
func (s *Store) validate(rec CaptureRecord, image []byte) error {
	if !uuidRe.MatchString(rec.ID) {
		return protocol.NewError(protocol.CodeRecordMalformed, fmt.Sprintf("invalid record id %q", rec.ID), nil)
	}
	if rec.Label == "" {
		return protocol.NewError(protocol.CodeRecordMalformed, "record has no label", nil)
	}
	if rec.Meta.Timestamp == "" {
		return protocol.NewError(protocol.CodeRecordMalformed, "record has no timestamp", nil)
	}
	if len(image) == 0 {
		return protocol.NewError(protocol.CodeRecordMalformed, "record has no image", nil)
	}
	return nil
}

// Save writes the record and its image. Fails with RECORD_CAPACITY once the
// store is full and RECORD_MALFORMED for records the schema rejects.
func (s *Store) Save(rec CaptureRecord, image []byte) error {
	if err := s.validate(rec, image); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.countLocked()
	if err != nil {
		return err
	}
	if count >= s.max {
		return protocol.NewError(protocol.CodeRecordCapacity,
			fmt.Sprintf("store holds %d of %d records", count, s.max), nil)
	}

	imgPath := filepath.Join(s.dir, rec.ID+".png")
	jsonPath := filepath.Join(s.dir, rec.ID+".json")

	if err := os.WriteFile(imgPath, image, 0o644); err != nil {
		return fmt.Errorf("record store: write image: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("record store: marshal record: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("record store: write record: %w", err)
	}
	return nil
}

// Get reads one record by ID.
func (s *Store) Get(id string) (CaptureRecord, error) {
	if !uuidRe.MatchString(id) {
		return CaptureRecord{}, protocol.NewError(protocol.CodeRecordMalformed, fmt.Sprintf("invalid record id %q", id), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return CaptureRecord{}, protocol.NewError(protocol.CodeRecordNotFound, fmt.Sprintf("record %s not found", id), nil)
		}
		return CaptureRecord{}, fmt.Errorf("record store: read record: %w", err)
	}

	var rec CaptureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CaptureRecord{}, protocol.NewError(protocol.CodeRecordMalformed, "undecodable record on disk", err)
	}
	return rec, nil
}

// GetAll returns every readable record, newest first by meta timestamp.
// Files that fail to parse are skipped, not fatal.
func (s *Store) GetAll() ([]CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("record store: glob: %w", err)
	}

	recs := make([]CaptureRecord, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec CaptureRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Meta.Timestamp > recs[j].Meta.Timestamp
	})
	return recs, nil
}

// ReadImage returns the cropped image bytes for a record.
func (s *Store) ReadImage(id string) ([]byte, error) {
	if !uuidRe.MatchString(id) {
		return nil, protocol.NewError(protocol.CodeRecordMalformed, fmt.Sprintf("invalid record id %q", id), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".png"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.NewError(protocol.CodeRecordNotFound, fmt.Sprintf("image for record %s not found", id), nil)
		}
		return nil, fmt.Errorf("record store: read image: %w", err)
	}
	return data, nil
}

// Delete removes a record and its image. Deleting an absent record fails
// with the same not-found error Get reports.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = os.Remove(filepath.Join(s.dir, id+".png"))
	_ = os.Remove(filepath.Join(s.dir, id+".json"))
	return nil
}

// Count reports how many records are stored.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *Store) countLocked() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("record store: glob: %w", err)
	}
	return len(matches), nil
}
