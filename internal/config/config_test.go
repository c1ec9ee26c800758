package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestResolveDefaults(t *testing.T) {
	snap := Resolve(Settings{}, nil)

	assert.Equal(t, DefaultSidecarURL, snap.SidecarURL)
	assert.InDelta(t, DefaultConfidence, snap.ConfidenceThreshold, 1e-9)
	assert.Equal(t, DefaultPrompt, snap.LLMPrompt)
	assert.False(t, snap.LLMEnabled())
}

func TestResolveOverridesWin(t *testing.T) {
	base := Settings{
		SidecarURL:          "http://sidecar:8000",
		Cameras:             []string{"camera.front"},
		ConfidenceThreshold: 0.6,
		DetectionClasses:    []string{"person"},
		DrawBoxes:           true,
		SaveAnnotated:       true,
		NotifyService:       "notify.phone",
	}
	ov := &Overrides{
		ConfidenceThreshold: ptr(0.8),
		DetectionClasses:    []string{"person", "dog"},
		DrawBoxes:           ptr(false),
		LLMProvider:         ptr("openai"),
	}

	snap := Resolve(base, ov)

	// Overridden fields.
	assert.InDelta(t, 0.8, snap.ConfidenceThreshold, 1e-9)
	assert.Equal(t, []string{"person", "dog"}, snap.DetectionClasses)
	assert.False(t, snap.DrawBoxes)
	assert.True(t, snap.LLMEnabled())

	// Inherited fields.
	assert.Equal(t, "http://sidecar:8000", snap.SidecarURL)
	assert.Equal(t, []string{"camera.front"}, snap.Cameras)
	assert.True(t, snap.SaveAnnotated)
	assert.Equal(t, "notify.phone", snap.NotifyService)
}

func TestResolveClampsThreshold(t *testing.T) {
	snap := Resolve(Settings{ConfidenceThreshold: 0.05}, nil)
	assert.InDelta(t, 0.1, snap.ConfidenceThreshold, 1e-9)

	snap = Resolve(Settings{}, &Overrides{ConfidenceThreshold: ptr(1.5)})
	assert.InDelta(t, 1.0, snap.ConfidenceThreshold, 1e-9)
}

func TestSnapshotIsACopy(t *testing.T) {
	base := Settings{DetectionClasses: []string{"person"}}
	store := NewStore(base)

	snap := store.Snapshot()
	snap.DetectionClasses[0] = "mutated"

	assert.Equal(t, []string{"person"}, store.Snapshot().DetectionClasses)
}

func TestStoreLiveReconfiguration(t *testing.T) {
	store := NewStore(Settings{ConfidenceThreshold: 0.6})

	require.InDelta(t, 0.6, store.Snapshot().ConfidenceThreshold, 1e-9)

	store.SetOverrides(&Overrides{ConfidenceThreshold: ptr(0.9)})
	assert.InDelta(t, 0.9, store.Snapshot().ConfidenceThreshold, 1e-9)

	store.SetOverrides(nil)
	assert.InDelta(t, 0.6, store.Snapshot().ConfidenceThreshold, 1e-9)
}
