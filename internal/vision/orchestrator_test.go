package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/events"
	"github.com/lauritssn/yolo-llm-vision/internal/sidecar"
	"github.com/lauritssn/yolo-llm-vision/internal/store"
)

type fakeConfig struct {
	snap config.Snapshot
}

func (f *fakeConfig) Snapshot() config.Snapshot { return f.snap }

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	image []byte
	err   error
}

func (f *fakeSnapshots) Snapshot(ctx context.Context, entityID string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.image, f.err
}

func (f *fakeSnapshots) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	resp    *sidecar.DetectResponse
	err     error
	started chan struct{} // closed on first call, if set
	release chan struct{} // blocks the call until closed, if set
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte, params sidecar.DetectParams) (*sidecar.DetectResponse, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.resp
	return &cp, nil
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEscalator struct {
	summary string
	err     error
	calls   int
}

func (f *fakeEscalator) Describe(ctx context.Context, provider, prompt, entityID string) (string, error) {
	f.calls++
	return f.summary, f.err
}

type fakeNotifier struct {
	calls   int
	summary string
	err     error
}

func (f *fakeNotifier) Send(ctx context.Context, target, entityID, summary string, confidence float64, classes []string) error {
	f.calls++
	f.summary = summary
	return f.err
}

type fakeEmitter struct {
	calls int
	last  events.Detection
	err   error
}

func (f *fakeEmitter) EmitDetection(ctx context.Context, d events.Detection) error {
	f.calls++
	f.last = d
	return f.err
}

type fakeHistory struct {
	records []store.DetectionRecord
	err     error
}

func (f *fakeHistory) Insert(rec store.DetectionRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

type fakeImages struct {
	calls int
	path  string
	err   error
}

func (f *fakeImages) Save(entityID string, image []byte, ts time.Time) (string, error) {
	f.calls++
	return f.path, f.err
}

func personResponse() *sidecar.DetectResponse {
	return &sidecar.DetectResponse{
		Detected:        true,
		DetectionCount:  1,
		ClassesDetected: []string{"person"},
		ConfidenceMax:   0.92,
		ConfidenceAvg:   0.92,
		InferenceTimeMs: 42,
	}
}

type harness struct {
	orch      *Orchestrator
	cfg       *fakeConfig
	snapshots *fakeSnapshots
	detector  *fakeDetector
	escalator *fakeEscalator
	notifier  *fakeNotifier
	emitter   *fakeEmitter
	history   *fakeHistory
	images    *fakeImages
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg: &fakeConfig{snap: config.Snapshot{
			SidecarURL:          "http://sidecar:8000",
			ConfidenceThreshold: 0.6,
			DetectionClasses:    []string{"person", "dog"},
			NotifyService:       "notify.mobile_app_phone",
		}},
		snapshots: &fakeSnapshots{image: []byte("jpeg-bytes")},
		detector:  &fakeDetector{resp: personResponse()},
		escalator: &fakeEscalator{summary: "a person at the door"},
		notifier:  &fakeNotifier{},
		emitter:   &fakeEmitter{},
		history:   &fakeHistory{},
		images:    &fakeImages{path: "/media/x.jpg"},
		now:       time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	h.orch = NewOrchestrator(Deps{
		Config:      h.cfg,
		Snapshots:   h.snapshots,
		NewDetector: func(string) Detector { return h.detector },
		Escalator:   h.escalator,
		Images:      h.images,
		Notifier:    h.notifier,
		Events:      h.emitter,
		History:     h.history,
		Log:         zerolog.Nop(),
		Now:         func() time.Time { return h.now },
	})
	return h
}

func TestAnalyzeQualifyingDetection(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.LLMProvider = "openai"

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.False(t, res.Error)
	require.False(t, res.Empty)
	assert.True(t, res.Detected)
	assert.Equal(t, 0.92, res.Confidence)
	assert.Equal(t, []string{"person"}, res.ClassesDetected)
	assert.Equal(t, h.now, res.LastSeen)
	assert.Equal(t, "a person at the door", res.AnalysisSummary)

	// Exactly one event, one notification, one history row.
	assert.Equal(t, 1, h.emitter.calls)
	assert.Equal(t, "camera.front", h.emitter.last.EntityID)
	assert.Equal(t, 1, h.notifier.calls)
	require.Len(t, h.history.records, 1)
	assert.Equal(t, "a person at the door", h.history.records[0].AnalysisSummary)

	state := h.orch.State("camera.front")
	assert.True(t, state.Detected)
	assert.Equal(t, h.now, state.LastSeen)
}

func TestAnalyzeBelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.detector.resp.ConfidenceMax = 0.4

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.False(t, res.Error)
	assert.False(t, res.Detected)
	assert.Equal(t, 0.4, res.Confidence)
	assert.True(t, res.LastSeen.IsZero())

	// No side effects for a filtered detection.
	assert.Zero(t, h.emitter.calls)
	assert.Zero(t, h.notifier.calls)
	assert.Zero(t, h.escalator.calls)
	assert.Empty(t, h.history.records)

	// Measured fields are still refreshed.
	state := h.orch.State("camera.front")
	assert.False(t, state.Detected)
	assert.Equal(t, 0.4, state.Confidence)
	assert.Equal(t, []string{"person"}, state.ClassesDetected)
	assert.True(t, state.LastSeen.IsZero())
}

func TestAnalyzeSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.detector.started = make(chan struct{})
	h.detector.release = make(chan struct{})

	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- h.orch.Analyze(context.Background(), "camera.front", false)
	}()
	<-h.detector.started

	second := h.orch.Analyze(context.Background(), "camera.front", false)
	assert.True(t, second.Empty)
	assert.Equal(t, 1, h.snapshots.callCount())
	assert.Equal(t, 1, h.detector.callCount())

	close(h.detector.release)
	first := <-firstDone
	assert.True(t, first.Detected)

	// The gate is released, a third call runs normally.
	third := h.orch.Analyze(context.Background(), "camera.front", false)
	assert.False(t, third.Empty)
	assert.Equal(t, 3, h.snapshots.callCount())
}

func TestAnalyzeSnapshotFailure(t *testing.T) {
	h := newHarness(t)
	h.snapshots.err = errors.New("camera unreachable")

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.True(t, res.Error)
	assert.Contains(t, res.Message, "snapshot failed")
	assert.Contains(t, res.Message, "camera unreachable")
	assert.Zero(t, h.detector.callCount())

	// State is untouched on a fatal failure.
	state := h.orch.State("camera.front")
	assert.False(t, state.Detected)
	assert.Zero(t, state.Confidence)
}

func TestAnalyzeDetectorFailure(t *testing.T) {
	h := newHarness(t)
	h.detector.err = &sidecar.StatusError{Code: 502, Detail: "model not loaded"}

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.True(t, res.Error)
	assert.Contains(t, res.Message, "502")
	assert.Contains(t, res.Message, "model not loaded")
	assert.Zero(t, h.emitter.calls)
}

func TestAnalyzeMalformedAnnotatedImage(t *testing.T) {
	h := newHarness(t)
	h.detector.resp.AnnotatedImageBase64 = "not!!base64"

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.True(t, res.Error)
	assert.Contains(t, res.Message, "malformed annotated image")

	state := h.orch.State("camera.front")
	assert.Zero(t, state.Confidence)
	assert.Nil(t, h.orch.LastImage("camera.front"))
}

func TestAnalyzeEscalationFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.LLMProvider = "openai"
	h.escalator.err = errors.New("provider timeout")

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.False(t, res.Error)
	assert.True(t, res.Detected)
	assert.Empty(t, res.AnalysisSummary)
	// Event and notification still go out without a summary.
	assert.Equal(t, 1, h.emitter.calls)
	assert.Equal(t, 1, h.notifier.calls)
}

func TestAnalyzeNoEscalationWithoutProvider(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.LLMProvider = ""

	// force_llm cannot conjure a provider.
	res := h.orch.Analyze(context.Background(), "camera.front", true)

	require.False(t, res.Error)
	assert.Zero(t, h.escalator.calls)
	assert.Empty(t, res.AnalysisSummary)
}

func TestAnalyzeForceLLM(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.LLMProvider = "openai"
	h.cfg.snap.NotifyService = ""

	res := h.orch.Analyze(context.Background(), "camera.front", true)

	require.False(t, res.Error)
	assert.Equal(t, 1, h.escalator.calls)
	assert.Equal(t, "a person at the door", res.AnalysisSummary)
	assert.Zero(t, h.notifier.calls)
}

func TestAnalyzeBestEffortFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.SaveAnnotated = true
	h.detector.resp.AnnotatedImageBase64 = base64.StdEncoding.EncodeToString([]byte("annotated"))
	h.images.err = errors.New("disk full")
	h.emitter.err = errors.New("ha down")
	h.notifier.err = errors.New("notify down")
	h.history.err = errors.New("db locked")

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.False(t, res.Error)
	assert.True(t, res.Detected)
	assert.Equal(t, 1, h.images.calls)
	assert.Equal(t, 1, h.emitter.calls)
	assert.Equal(t, 1, h.notifier.calls)
	require.Len(t, h.history.records, 1)
	assert.Empty(t, h.history.records[0].ImagePath)
}

func TestAnalyzeSavesAnnotatedImage(t *testing.T) {
	h := newHarness(t)
	h.cfg.snap.SaveAnnotated = true
	h.detector.resp.AnnotatedImageBase64 = base64.StdEncoding.EncodeToString([]byte("annotated"))

	res := h.orch.Analyze(context.Background(), "camera.front", false)

	require.False(t, res.Error)
	assert.Equal(t, 1, h.images.calls)
	require.Len(t, h.history.records, 1)
	assert.Equal(t, "/media/x.jpg", h.history.records[0].ImagePath)
	assert.Equal(t, []byte("annotated"), h.orch.LastImage("camera.front"))
}

func TestAnalyzeDistinctCamerasRunConcurrently(t *testing.T) {
	h := newHarness(t)
	h.detector.started = make(chan struct{})
	h.detector.release = make(chan struct{})

	frontDone := make(chan Result, 1)
	go func() {
		frontDone <- h.orch.Analyze(context.Background(), "camera.front", false)
	}()
	<-h.detector.started

	// camera.back is not gated by camera.front's in-flight analysis.
	backDone := make(chan Result, 1)
	go func() {
		backDone <- h.orch.Analyze(context.Background(), "camera.back", false)
	}()

	select {
	case res := <-backDone:
		// Both share the blocking detector; back finishes only after release.
		_ = res
		t.Fatal("back finished while detector was blocked")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, h.snapshots.callCount())

	close(h.detector.release)
	assert.False(t, (<-frontDone).Empty)
	assert.False(t, (<-backDone).Empty)
}

func TestResultJSONShapes(t *testing.T) {
	empty, err := json.Marshal(Result{EntityID: "camera.front", Empty: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(empty))

	errRes, err := json.Marshal(Result{EntityID: "camera.front", Error: true, Message: "snapshot failed: boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity_id":"camera.front","error":true,"message":"snapshot failed: boom"}`, string(errRes))

	filtered, err := json.Marshal(Result{
		EntityID:        "camera.front",
		Confidence:      0.4,
		DetectionCount:  1,
		ClassesDetected: []string{"person"},
	})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(filtered, &m))
	assert.NotContains(t, m, "last_seen")
	assert.NotContains(t, m, "analysis_summary")
	assert.Equal(t, false, m["detected"])

	full, err := json.Marshal(Result{
		EntityID:        "camera.front",
		Detected:        true,
		Confidence:      0.92,
		DetectionCount:  1,
		ClassesDetected: []string{"person"},
		LastSeen:        time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		AnalysisSummary: "a person",
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(full, &m))
	assert.Equal(t, "2026-08-25T12:00:00Z", m["last_seen"])
	assert.Equal(t, "a person", m["analysis_summary"])
}

func TestBusPublishOnAnalysis(t *testing.T) {
	h := newHarness(t)

	ch, unsub := h.orch.Bus().SubscribeChannel(4)
	defer unsub()

	h.orch.Analyze(context.Background(), "camera.front", false)

	select {
	case update := <-ch:
		assert.Equal(t, "camera.front", update.EntityID)
		assert.True(t, update.View.Detected)
		assert.Equal(t, 92.0, update.View.ConfidencePct)
	default:
		t.Fatal("expected a state update on the bus")
	}
}

func TestAnalyzeIdempotentSequentialRuns(t *testing.T) {
	h := newHarness(t)

	first := h.orch.Analyze(context.Background(), "camera.front", false)
	second := h.orch.Analyze(context.Background(), "camera.front", false)

	assert.Equal(t, first.Detected, second.Detected)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, 2, h.emitter.calls)
	assert.Equal(t, 2, h.snapshots.callCount())
}
