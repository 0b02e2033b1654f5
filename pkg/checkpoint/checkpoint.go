// Package checkpoint persists intermediate stage results so a crashed
// run resumes where it stopped instead of repeating model calls. Each
// record is keyed by (stage, substep) and lives in its own JSON file.
//
// The pipeline commits a stage's durable outputs first and discards
// the stage's checkpoints after, so a crash between the two only costs
// a redundant replay, never lost work.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/logging"
)

// Record is the on-disk envelope around one checkpointed payload.
type Record struct {
	Stage     string          `json:"stage"`
	SubStep   string          `json:"substep"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store manages checkpoint persistence for one run directory.
type Store struct {
	baseDir string
	logger  *logging.Logger
}

// NewStore creates a checkpoint store rooted at baseDir.
func NewStore(baseDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{baseDir: baseDir, logger: logger}
}

func (s *Store) path(stage, substep string) string {
	return filepath.Join(s.baseDir, sanitize(stage), sanitize(substep)+".json")
}

// sanitize keeps stage and substep identifiers filesystem safe.
func sanitize(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(name)
}

// Put writes one checkpoint, replacing any previous value for the key.
func (s *Store) Put(stage, substep string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "marshaling checkpoint payload")
	}

	record := Record{
		Stage:     stage,
		SubStep:   substep,
		CreatedAt: time.Now(),
		Payload:   data,
	}

	path := s.path(stage, substep)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "creating checkpoint directory")
	}

	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "marshaling checkpoint record")
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// checkpoint where a valid one is expected.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "writing checkpoint")
	}
	if err := os.Rename(tmp, path); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "committing checkpoint")
	}

	return nil
}

// Get returns the payload for (stage, substep). The boolean reports
// whether a checkpoint exists; a corrupt file is reported as an error.
func (s *Store) Get(stage, substep string) (json.RawMessage, bool, error) {
	data, err := os.ReadFile(s.path(stage, substep))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "reading checkpoint")
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeCheckpointCorrupt,
			fmt.Sprintf("checkpoint %s/%s is corrupt", stage, substep))
	}

	return record.Payload, true, nil
}

// GetOrCompute returns the stored payload for the key, or runs compute
// and stores its result. A corrupt checkpoint is discarded and
// recomputed rather than wedging the run.
func (s *Store) GetOrCompute(stage, substep string, compute func() (any, error)) (json.RawMessage, error) {
	payload, found, err := s.Get(stage, substep)
	if err != nil {
		if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeCheckpointCorrupt) {
			return nil, err
		}
		s.logger.Warn(logging.CategoryCheckpoint, "corrupt_discarded", "discarding corrupt checkpoint", map[string]any{
			"stage":   stage,
			"substep": substep,
		})
	}
	if found && err == nil {
		s.logger.Debug(logging.CategoryCheckpoint, "replay", "reusing checkpointed result", map[string]any{
			"stage":   stage,
			"substep": substep,
		})
		return payload, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	if err := s.Put(stage, substep, value); err != nil {
		return nil, err
	}

	// Round trip through Put's marshaling so replays and first runs
	// see byte-identical payloads.
	stored, _, err := s.Get(stage, substep)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DiscardStage removes every checkpoint under one stage. Missing
// stages are not an error; discard runs after commit and must be
// idempotent across crashes.
func (s *Store) DiscardStage(stage string) error {
	dir := filepath.Join(s.baseDir, sanitize(stage))
	if err := os.RemoveAll(dir); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "discarding stage checkpoints")
	}
	return nil
}

// Stages lists the stage identifiers that still hold checkpoints.
func (s *Store) Stages() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "listing checkpoint stages")
	}

	var stages []string
	for _, entry := range entries {
		if entry.IsDir() {
			stages = append(stages, entry.Name())
		}
	}
	sort.Strings(stages)
	return stages, nil
}

// GetOrComputeAs replays or computes a typed value at (stage, substep).
func GetOrComputeAs[T any](s *Store, stage, substep string, compute func() (T, error)) (T, error) {
	var zero T

	payload, err := s.GetOrCompute(stage, substep, func() (any, error) {
		return compute()
	})
	if err != nil {
		return zero, err
	}

	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		return zero, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeCheckpointCorrupt,
			fmt.Sprintf("checkpoint %s/%s does not match expected type", stage, substep))
	}
	return value, nil
}
