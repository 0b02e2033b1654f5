package retro

import (
	"encoding/json"
	"os"
	"path/filepath"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
)

// writeMinutes persists the transcript atomically. Minutes are written
// once and never modified.
func writeMinutes(path string, minutes *Minutes) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "creating minutes directory")
		}
	}

	data, err := json.MarshalIndent(minutes, "", "  ")
	if err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "marshaling minutes")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "writing minutes")
	}
	if err := os.Rename(tmp, path); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "committing minutes")
	}
	return nil
}

// ReadMinutes loads a previously written transcript.
func ReadMinutes(path string) (*Minutes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "reading minutes")
	}
	var minutes Minutes
	if err := json.Unmarshal(data, &minutes); err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "parsing minutes")
	}
	return &minutes, nil
}
