package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViewOfDefaults(t *testing.T) {
	v := viewOf("camera.front", CameraState{})

	assert.Equal(t, "camera.front", v.EntityID)
	assert.False(t, v.Detected)
	assert.Equal(t, "none", v.Classes)
	assert.Empty(t, v.LastSeen)
	assert.False(t, v.HasImage)
}

func TestViewOfPopulated(t *testing.T) {
	seen := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	v := viewOf("camera.front", CameraState{
		Detected:        true,
		Confidence:      0.857,
		DetectionCount:  2,
		ClassesDetected: []string{"person", "dog"},
		LastImage:       []byte{0xff},
		LastSeen:        seen,
		InferenceTimeMs: 40,
	})

	assert.Equal(t, 85.7, v.ConfidencePct)
	assert.Equal(t, "person, dog", v.Classes)
	assert.Equal(t, "2026-08-25T12:30:00Z", v.LastSeen)
	assert.True(t, v.HasImage)
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &CameraState{
		ClassesDetected: []string{"person"},
		LastImage:       []byte{1, 2},
	}
	cp := orig.clone()

	orig.ClassesDetected[0] = "dog"
	orig.LastImage[0] = 9

	assert.Equal(t, []string{"person"}, cp.ClassesDetected)
	assert.Equal(t, []byte{1, 2}, cp.LastImage)
}
