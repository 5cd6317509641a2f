// Package store persists controller state as versioned JSON documents, one
// file per document key. Missing or corrupt documents bootstrap as empty
// state rather than failing startup.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const currentVersion = 1

const (
	KeyZones    = "zones"
	KeyLearning = "learning"
	KeyVacation = "vacation"
	KeySafety   = "safety"
)

type document struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load decodes the document for key into out. A missing or unreadable
// document leaves out untouched and returns false.
func (s *Store) Load(key string, out interface{}) bool {
	path := filepath.Join(s.dir, key+".json")
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("key", key).Msg("Failed to open state document, starting empty")
		}
		return false
	}
	defer file.Close()

	var doc document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Corrupt state document, starting empty")
		return false
	}
	if doc.Version > currentVersion {
		log.Warn().Int("version", doc.Version).Str("key", key).Msg("State document from a newer version, starting empty")
		return false
	}
	if err := json.Unmarshal(doc.Data, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Corrupt state document payload, starting empty")
		return false
	}
	return true
}

// Save writes the document atomically via a temp file and rename.
func (s *Store) Save(key string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	path := filepath.Join(s.dir, key+".json")
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{Version: currentVersion, Data: raw}); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmp, path)
}
