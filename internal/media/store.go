// Package media persists annotated detection images to disk.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const subdir = "yolo_llm_vision"

// Store writes annotated images under a media directory.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "media").Logger(),
	}
}

// Save writes an annotated JPEG for an entity and returns the file path.
func (s *Store) Save(entityID string, image []byte, ts time.Time) (string, error) {
	dir := filepath.Join(s.dir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	safe := strings.ReplaceAll(entityID, ".", "_")
	name := fmt.Sprintf("%s_%s.jpg", safe, ts.UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write annotated image: %w", err)
	}

	s.log.Debug().Str("path", path).Int("bytes", len(image)).Msg("annotated image saved")
	return path, nil
}
