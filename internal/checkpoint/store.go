// Package checkpoint persists the record of a migration run: one JSON file
// per checkpoint, a final summary, and the run history database.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status of a checkpoint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// Checkpoint is an immutable record written at the start and end of every stage.
type Checkpoint struct {
	Stage             string         `json:"stage"`
	Timestamp         time.Time      `json:"timestamp"`
	Status            Status         `json:"status"`
	ValidationResults map[string]any `json:"validation_results"`
	ErrorMessage      *string        `json:"error_message"`
}

// New creates a checkpoint stamped with the current UTC time.
func New(stage string, status Status, results map[string]any, errMsg string) Checkpoint {
	if results == nil {
		results = map[string]any{}
	}
	cp := Checkpoint{Stage: stage, Timestamp: time.Now().UTC(), Status: status, ValidationResults: results}
	if errMsg != "" {
		cp.ErrorMessage = &errMsg
	}
	return cp
}

// Store appends checkpoints for one run, writing each to disk before it
// becomes visible in memory.
type Store struct {
	dir string

	mu          sync.RWMutex
	checkpoints []Checkpoint
}

// NewStore creates <runDir>/checkpoints.
func NewStore(runDir string) (*Store, error) {
	dir := filepath.Join(runDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save persists cp as <seq>_<stage>_<timestamp>.json and then records it.
func (s *Store) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%06d_%s_%s.json", len(s.checkpoints)+1, cp.Stage,
		cp.Timestamp.UTC().Format("20060102T150405.000Z"))
	if err := writeJSON(filepath.Join(s.dir, name), cp); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.Stage, err)
	}
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

// All returns the checkpoints saved so far, oldest first.
func (s *Store) All() []Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Checkpoint(nil), s.checkpoints...)
}

// Failed counts checkpoints with status failed.
func (s *Store) Failed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, cp := range s.checkpoints {
		if cp.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Load reads the checkpoint files of a finished or running run in sequence order.
func Load(runDir string) ([]Checkpoint, error) {
	dir := filepath.Join(runDir, "checkpoints")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoints: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		si, sj := fileSeq(names[i]), fileSeq(names[j])
		if si != sj {
			return si < sj
		}
		return names[i] < names[j]
	})

	out := make([]Checkpoint, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// WriteSummary writes v as <runDir>/summary.json.
func WriteSummary(runDir string, v any) error {
	if err := writeJSON(filepath.Join(runDir, "summary.json"), v); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// ReadSummary decodes <runDir>/summary.json into v.
func ReadSummary(runDir string, v any) error {
	data, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes through a temporary file and a rename so readers never
// see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// fileSeq parses the sequence number a checkpoint file name starts with.
// Names without one sort last.
func fileSeq(name string) int {
	prefix, _, _ := strings.Cut(name, "_")
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return math.MaxInt
	}
	return n
}
