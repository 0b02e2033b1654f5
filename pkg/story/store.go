package story

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/logging"
)

// Store persists the world state, the chapter log, and the dossiers.
type Store struct {
	worldPath  string
	novelPath  string
	dossierDir string
	logger     *logging.Logger
}

// NewStore builds a store over the three persistence roots.
func NewStore(worldPath, novelPath, dossierDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		worldPath:  worldPath,
		novelPath:  novelPath,
		dossierDir: dossierDir,
		logger:     logger,
	}
}

// writeJSON writes v atomically: temp file in the target directory,
// then rename. Readers never observe a half-written document.
func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "creating directory")
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "marshaling document")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "writing document")
	}
	if err := os.Rename(tmp, path); err != nil {
		return scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "committing document")
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "reading document")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "parsing document")
	}
	return true, nil
}

// LoadWorld reads the world state. found is false on first run.
func (s *Store) LoadWorld() (*WorldState, bool, error) {
	var world WorldState
	found, err := readJSON(s.worldPath, &world)
	if err != nil || !found {
		return nil, found, err
	}
	return &world, true, nil
}

// SaveWorld persists the world state atomically.
func (s *Store) SaveWorld(world *WorldState) error {
	if err := writeJSON(s.worldPath, world); err != nil {
		return err
	}
	s.logger.LogWrite("pipeline", s.worldPath, "persist world state")
	return nil
}

// LoadNovel reads the chapter log, returning an empty novel on first run.
func (s *Store) LoadNovel() (*Novel, error) {
	var novel Novel
	if _, err := readJSON(s.novelPath, &novel); err != nil {
		return nil, err
	}
	return &novel, nil
}

// AppendChapter adds a chapter to the log and persists it. The chapter
// number and ID are assigned here.
func (s *Store) AppendChapter(chapter *Chapter) error {
	novel, err := s.LoadNovel()
	if err != nil {
		return err
	}

	if chapter.ID == "" {
		chapter.ID = ulid.Make().String()
	}
	chapter.Number = len(novel.Chapters) + 1

	novel.Chapters = append(novel.Chapters, *chapter)
	if err := writeJSON(s.novelPath, novel); err != nil {
		return err
	}
	s.logger.LogWrite("pipeline", s.novelPath, chapter.Header())
	return nil
}

// LoadDossier reads one character dossier.
func (s *Store) LoadDossier(name string) (*Dossier, bool, error) {
	var dossier Dossier
	found, err := readJSON(s.dossierPath(name), &dossier)
	if err != nil || !found {
		return nil, found, err
	}
	return &dossier, true, nil
}

// SaveDossier persists one character dossier.
func (s *Store) SaveDossier(dossier *Dossier) error {
	if strings.TrimSpace(dossier.Name) == "" {
		return scrivenererrors.New(scrivenererrors.ErrCodeInvalidInput, "dossier has no character name")
	}
	if err := writeJSON(s.dossierPath(dossier.Name), dossier); err != nil {
		return err
	}
	s.logger.LogWrite("pipeline", s.dossierPath(dossier.Name), "persist dossier")
	return nil
}

// ListDossiers returns every stored dossier sorted by character name.
func (s *Store) ListDossiers() ([]*Dossier, error) {
	entries, err := os.ReadDir(s.dossierDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "listing dossiers")
	}

	var dossiers []*Dossier
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var dossier Dossier
		found, err := readJSON(filepath.Join(s.dossierDir, entry.Name()), &dossier)
		if err != nil {
			return nil, err
		}
		if found {
			dossiers = append(dossiers, &dossier)
		}
	}

	sort.Slice(dossiers, func(i, j int) bool { return dossiers[i].Name < dossiers[j].Name })
	return dossiers, nil
}

func (s *Store) dossierPath(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return filepath.Join(s.dossierDir, replacer.Replace(slug)+".json")
}
