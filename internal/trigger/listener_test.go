package trigger

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	triggered []string
}

func (f *fakeAnalyzer) Trigger(entityID string) {
	f.triggered = append(f.triggered, entityID)
}

type staticCameras []string

func (s staticCameras) Cameras() []string { return s }

func newTestListener(t *testing.T, cameras ...string) (*Listener, *fakeAnalyzer) {
	t.Helper()
	analyzer := &fakeAnalyzer{}
	l, err := NewListener("http://ha.local:8123", "token", staticCameras(cameras), analyzer, zerolog.Nop())
	require.NoError(t, err)
	return l, analyzer
}

func event(t *testing.T, entityID, oldState, newState string) stateChangedEvent {
	t.Helper()
	raw := map[string]any{
		"event_type": "state_changed",
		"data": map[string]any{
			"entity_id": entityID,
			"new_state": map[string]any{"state": newState},
		},
	}
	if oldState != "" {
		raw["data"].(map[string]any)["old_state"] = map[string]any{"state": oldState}
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	var ev stateChangedEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWebsocketURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://ha.local:8123":   "ws://ha.local:8123/api/websocket",
		"https://ha.example.com": "wss://ha.example.com/api/websocket",
		"http://ha.local:8123/":  "ws://ha.local:8123/api/websocket",
	} {
		got, err := websocketURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := websocketURL("ftp://nope")
	assert.Error(t, err)
}

func TestTriggersOnTransitionIntoActiveState(t *testing.T) {
	l, analyzer := newTestListener(t, "camera.front")

	l.handleStateChange(event(t, "camera.front", "idle", "recording"))

	assert.Equal(t, []string{"camera.front"}, analyzer.triggered)
}

func TestIgnoresAlreadyActiveTransitions(t *testing.T) {
	l, analyzer := newTestListener(t, "camera.front")

	l.handleStateChange(event(t, "camera.front", "recording", "streaming"))

	assert.Empty(t, analyzer.triggered)
}

func TestIgnoresInactiveAndUnwatched(t *testing.T) {
	l, analyzer := newTestListener(t, "camera.front")

	l.handleStateChange(event(t, "camera.front", "recording", "idle"))
	l.handleStateChange(event(t, "camera.back", "idle", "recording"))
	l.handleStateChange(event(t, "light.porch", "off", "on"))

	assert.Empty(t, analyzer.triggered)
}

func TestTriggersWithoutOldState(t *testing.T) {
	l, analyzer := newTestListener(t, "camera.front")

	l.handleStateChange(event(t, "camera.front", "", "motion"))

	assert.Equal(t, []string{"camera.front"}, analyzer.triggered)
}
