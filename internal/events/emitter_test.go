package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFirer struct {
	eventType string
	payload   map[string]any
	err       error
}

func (f *fakeFirer) FireEvent(_ context.Context, eventType string, payload map[string]any) error {
	f.eventType = eventType
	f.payload = payload
	return f.err
}

func TestEmitDetection(t *testing.T) {
	firer := &fakeFirer{}
	e := NewEmitter(firer, nil, "yolo_llm_vision", zerolog.Nop())

	lastSeen := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	err := e.EmitDetection(context.Background(), Detection{
		EntityID:        "camera.front",
		Detected:        true,
		Confidence:      0.92,
		DetectionCount:  2,
		ClassesDetected: []string{"dog", "person"},
		LastSeen:        lastSeen,
		AnalysisSummary: "two figures near the gate",
	})
	require.NoError(t, err)

	assert.Equal(t, EventDetection, firer.eventType)
	assert.Equal(t, "camera.front", firer.payload["entity_id"])
	assert.Equal(t, true, firer.payload["detected"])
	assert.Equal(t, 0.92, firer.payload["confidence"])
	assert.Equal(t, 2, firer.payload["detection_count"])
	assert.Equal(t, "2026-08-25T12:00:00Z", firer.payload["last_seen"])
	assert.Equal(t, "two figures near the gate", firer.payload["analysis_summary"])
	assert.NotEmpty(t, firer.payload["event_id"])
}

func TestEmitDetectionOmitsEmptySummary(t *testing.T) {
	firer := &fakeFirer{}
	e := NewEmitter(firer, nil, "yolo_llm_vision", zerolog.Nop())

	err := e.EmitDetection(context.Background(), Detection{
		EntityID: "camera.front",
		Detected: true,
		LastSeen: time.Now(),
	})
	require.NoError(t, err)

	_, present := firer.payload["analysis_summary"]
	assert.False(t, present)
}

func TestEmitDetectionPropagatesFireError(t *testing.T) {
	firer := &fakeFirer{err: errors.New("bus down")}
	e := NewEmitter(firer, nil, "yolo_llm_vision", zerolog.Nop())

	err := e.EmitDetection(context.Background(), Detection{EntityID: "camera.front"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus down")
}

func TestNewMQTTClientDisabled(t *testing.T) {
	client, err := NewMQTTClient("", zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, client)
}
