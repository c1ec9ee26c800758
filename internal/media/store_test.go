package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zerolog.Nop())

	ts := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	path, err := s.Save("camera.front_door", []byte("jpegdata"), ts)
	require.NoError(t, err)

	assert.Equal(t,
		filepath.Join(dir, "yolo_llm_vision", "camera_front_door_20260825_143005.jpg"),
		path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegdata"), data)
}
