// Package vision implements the per-camera analysis orchestrator: snapshot,
// detection, threshold filtering, optional vision-language escalation, state
// publication, and side effects.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lauritssn/yolo-llm-vision/internal/coco"
	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/events"
	"github.com/lauritssn/yolo-llm-vision/internal/metrics"
	"github.com/lauritssn/yolo-llm-vision/internal/sidecar"
	"github.com/lauritssn/yolo-llm-vision/internal/store"
)

// ConfigSource resolves the configuration snapshot read at the start of each
// analysis.
type ConfigSource interface {
	Snapshot() config.Snapshot
}

// SnapshotProvider returns current image bytes for a camera entity.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, entityID string) ([]byte, error)
}

// Detector submits an image for object detection.
type Detector interface {
	Detect(ctx context.Context, image []byte, params sidecar.DetectParams) (*sidecar.DetectResponse, error)
}

// Escalator produces a natural-language description of the camera's view.
type Escalator interface {
	Describe(ctx context.Context, provider, prompt, entityID string) (string, error)
}

// ImageSink persists annotated images.
type ImageSink interface {
	Save(entityID string, image []byte, ts time.Time) (string, error)
}

// Notifier dispatches detection notifications.
type Notifier interface {
	Send(ctx context.Context, target, entityID, summary string, confidence float64, classes []string) error
}

// EventEmitter fires the qualifying-detection event.
type EventEmitter interface {
	EmitDetection(ctx context.Context, d events.Detection) error
}

// HistoryRecorder appends qualifying detections to the history.
type HistoryRecorder interface {
	Insert(rec store.DetectionRecord) error
}

// Deps are the orchestrator's collaborators. Escalator, Images, Notifier,
// Events, History, and Annotate are best-effort and may be nil.
type Deps struct {
	Config      ConfigSource
	Snapshots   SnapshotProvider
	NewDetector func(baseURL string) Detector
	Escalator   Escalator
	Images      ImageSink
	Notifier    Notifier
	Events      EventEmitter
	History     HistoryRecorder
	Annotate    func(image []byte, dets []coco.Detection) ([]byte, error)
	Log         zerolog.Logger
	Now         func() time.Time
}

// Orchestrator owns per-camera state and runs the analysis pipeline. At most
// one analysis is in flight per camera; analyses for distinct cameras run
// independently.
type Orchestrator struct {
	deps Deps
	bus  *Bus
	log  zerolog.Logger

	mu        sync.Mutex
	states    map[string]*CameraState
	analyzing map[string]bool
	detectors map[string]Detector // keyed by sidecar URL
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.NewDetector == nil {
		deps.NewDetector = func(baseURL string) Detector {
			return sidecar.NewClient(baseURL, deps.Log)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps:      deps,
		bus:       NewBus(),
		log:       deps.Log.With().Str("component", "orchestrator").Logger(),
		states:    make(map[string]*CameraState),
		analyzing: make(map[string]bool),
		detectors: make(map[string]Detector),
	}
}

// Bus returns the state update bus for observers.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Result is the outcome of one analysis. Exactly one of three shapes applies:
// empty (another analysis for the camera was in flight), error, or success.
type Result struct {
	EntityID        string
	Empty           bool
	Error           bool
	Message         string
	Detected        bool
	Confidence      float64
	DetectionCount  int
	ClassesDetected []string
	LastSeen        time.Time
	AnalysisSummary string
}

// MarshalJSON renders the shape-dependent wire form: {} for empty,
// {entity_id, error, message} for errors, detection fields otherwise.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Empty {
		return []byte("{}"), nil
	}
	if r.Error {
		return json.Marshal(map[string]any{
			"entity_id": r.EntityID,
			"error":     true,
			"message":   r.Message,
		})
	}
	m := map[string]any{
		"entity_id":        r.EntityID,
		"detected":         r.Detected,
		"confidence":       r.Confidence,
		"detection_count":  r.DetectionCount,
		"classes_detected": r.ClassesDetected,
	}
	if r.Detected {
		m["last_seen"] = r.LastSeen.UTC().Format(time.RFC3339)
	}
	if r.AnalysisSummary != "" {
		m["analysis_summary"] = r.AnalysisSummary
	}
	return json.Marshal(m)
}

func errorResult(entityID string, err error) Result {
	return Result{EntityID: entityID, Error: true, Message: err.Error()}
}

// Analyze grabs a snapshot, runs detection, and on a qualifying detection
// escalates, persists, and notifies. forceLLM requests escalation even when
// no provider gate would trigger it.
//
// Snapshot and detector failures abort the analysis and are reported in the
// result; every later step is best-effort.
func (o *Orchestrator) Analyze(ctx context.Context, entityID string, forceLLM bool) Result {
	o.mu.Lock()
	if o.analyzing[entityID] {
		o.mu.Unlock()
		o.log.Debug().Str("entity_id", entityID).Msg("already analyzing, skipping")
		metrics.AnalysesTotal.WithLabelValues("skipped").Inc()
		return Result{EntityID: entityID, Empty: true}
	}
	o.analyzing[entityID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.analyzing, entityID)
		o.mu.Unlock()
	}()

	snap := o.deps.Config.Snapshot()

	o.log.Debug().
		Str("entity_id", entityID).
		Bool("force_llm", forceLLM).
		Str("sidecar_url", snap.SidecarURL).
		Msg("analysis start")

	image, err := o.deps.Snapshots.Snapshot(ctx, entityID)
	if err != nil {
		o.log.Error().Err(err).Str("entity_id", entityID).Msg("snapshot failed")
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return errorResult(entityID, fmt.Errorf("snapshot failed: %w", err))
	}

	detector := o.detectorFor(snap.SidecarURL)
	resp, err := detector.Detect(ctx, image, sidecar.DetectParams{
		Threshold: snap.ConfidenceThreshold,
		Classes:   snap.DetectionClasses,
		DrawBoxes: snap.DrawBoxes,
	})
	if err != nil {
		o.log.Error().Err(err).Str("entity_id", entityID).Msg("detection failed")
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return errorResult(entityID, err)
	}

	annotated, err := resp.AnnotatedImage()
	if err != nil {
		o.log.Error().Err(err).Str("entity_id", entityID).Msg("malformed annotated image")
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return errorResult(entityID, fmt.Errorf("malformed annotated image: %w", err))
	}
	if annotated == nil && snap.DrawBoxes && len(resp.Detections) > 0 && o.deps.Annotate != nil {
		if rendered, renderErr := o.deps.Annotate(image, resp.Detections); renderErr != nil {
			o.log.Warn().Err(renderErr).Str("entity_id", entityID).Msg("local annotation failed")
			metrics.StageFailures.WithLabelValues("annotate").Inc()
		} else {
			annotated = rendered
		}
	}

	metrics.InferenceLatency.Observe(resp.InferenceTimeMs)

	// Refresh measured fields regardless of the filtering outcome.
	o.mu.Lock()
	cam := o.stateLocked(entityID)
	cam.Confidence = resp.ConfidenceMax
	cam.DetectionCount = resp.DetectionCount
	cam.ClassesDetected = append([]string(nil), resp.ClassesDetected...)
	cam.InferenceTimeMs = resp.InferenceTimeMs
	if annotated != nil {
		cam.LastImage = annotated
	}

	result := Result{
		EntityID:        entityID,
		Confidence:      resp.ConfidenceMax,
		DetectionCount:  resp.DetectionCount,
		ClassesDetected: append([]string{}, resp.ClassesDetected...),
	}

	if !resp.Detected || resp.ConfidenceMax < snap.ConfidenceThreshold {
		cam.Detected = false
		view := viewOf(entityID, cam.clone())
		o.mu.Unlock()

		o.bus.Publish(StateUpdate{EntityID: entityID, View: view})
		metrics.AnalysesTotal.WithLabelValues("filtered").Inc()
		o.log.Debug().
			Str("entity_id", entityID).
			Float64("confidence_max", resp.ConfidenceMax).
			Float64("threshold", snap.ConfidenceThreshold).
			Msg("below threshold")
		return result
	}

	now := o.deps.Now()
	cam.Detected = true
	cam.LastSeen = now
	o.mu.Unlock()

	result.Detected = true
	result.LastSeen = now

	var imagePath string
	if snap.SaveAnnotated && annotated != nil && o.deps.Images != nil {
		if path, saveErr := o.deps.Images.Save(entityID, annotated, now); saveErr != nil {
			o.log.Error().Err(saveErr).Str("entity_id", entityID).Msg("failed to save annotated image")
			metrics.StageFailures.WithLabelValues("persist").Inc()
		} else {
			imagePath = path
		}
	}

	summary := o.escalate(ctx, snap, entityID, forceLLM)
	o.mu.Lock()
	cam.AnalysisSummary = summary
	view := viewOf(entityID, cam.clone())
	o.mu.Unlock()
	result.AnalysisSummary = summary

	if o.deps.Events != nil {
		if emitErr := o.deps.Events.EmitDetection(ctx, events.Detection{
			EntityID:        entityID,
			Detected:        true,
			Confidence:      result.Confidence,
			DetectionCount:  result.DetectionCount,
			ClassesDetected: result.ClassesDetected,
			LastSeen:        now,
			AnalysisSummary: summary,
		}); emitErr != nil {
			o.log.Error().Err(emitErr).Str("entity_id", entityID).Msg("event emission failed")
			metrics.StageFailures.WithLabelValues("event").Inc()
		}
	}

	if snap.NotifyService != "" && o.deps.Notifier != nil {
		if notifyErr := o.deps.Notifier.Send(ctx, snap.NotifyService, entityID, summary,
			result.Confidence, result.ClassesDetected); notifyErr != nil {
			o.log.Error().Err(notifyErr).Str("entity_id", entityID).Msg("notification failed")
			metrics.StageFailures.WithLabelValues("notify").Inc()
		}
	}

	if o.deps.History != nil {
		if histErr := o.deps.History.Insert(store.DetectionRecord{
			EntityID:        entityID,
			Timestamp:       now,
			Confidence:      result.Confidence,
			DetectionCount:  result.DetectionCount,
			Classes:         result.ClassesDetected,
			AnalysisSummary: summary,
			ImagePath:       imagePath,
			InferenceTimeMs: resp.InferenceTimeMs,
		}); histErr != nil {
			o.log.Error().Err(histErr).Str("entity_id", entityID).Msg("history insert failed")
			metrics.StageFailures.WithLabelValues("history").Inc()
		}
	}

	o.bus.Publish(StateUpdate{EntityID: entityID, View: view})
	metrics.AnalysesTotal.WithLabelValues("detected").Inc()

	o.log.Info().
		Str("entity_id", entityID).
		Float64("confidence", result.Confidence).
		Int("count", result.DetectionCount).
		Strs("classes", result.ClassesDetected).
		Msg("qualifying detection")

	return result
}

// escalate runs the vision-language step. Failures are logged and swallowed;
// the analysis continues without a summary.
func (o *Orchestrator) escalate(ctx context.Context, snap config.Snapshot, entityID string, forceLLM bool) string {
	if !snap.LLMEnabled() && !forceLLM {
		return ""
	}
	if snap.LLMProvider == "" || o.deps.Escalator == nil {
		return ""
	}

	summary, err := o.deps.Escalator.Describe(ctx, snap.LLMProvider, snap.LLMPrompt, entityID)
	if err != nil {
		o.log.Error().Err(err).Str("entity_id", entityID).Msg("escalation failed")
		metrics.EscalationsTotal.WithLabelValues("error").Inc()
		metrics.StageFailures.WithLabelValues("escalate").Inc()
		return ""
	}
	metrics.EscalationsTotal.WithLabelValues("ok").Inc()
	return summary
}

// stateLocked returns the camera's state, creating it on first access.
// Callers must hold o.mu.
func (o *Orchestrator) stateLocked(entityID string) *CameraState {
	cam, ok := o.states[entityID]
	if !ok {
		cam = &CameraState{}
		o.states[entityID] = cam
	}
	return cam
}

// State returns a copy of the camera's state, creating the default state on
// first access.
func (o *Orchestrator) State(entityID string) CameraState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked(entityID).clone()
}

// View returns the observer projection for one camera.
func (o *Orchestrator) View(entityID string) View {
	return viewOf(entityID, o.State(entityID))
}

// Views returns observer projections for all cameras that have state.
func (o *Orchestrator) Views() []View {
	o.mu.Lock()
	defer o.mu.Unlock()

	views := make([]View, 0, len(o.states))
	for entityID, cam := range o.states {
		views = append(views, viewOf(entityID, cam.clone()))
	}
	return views
}

// LastImage returns the most recent annotated image for a camera, or nil.
func (o *Orchestrator) LastImage(entityID string) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	cam, ok := o.states[entityID]
	if !ok || len(cam.LastImage) == 0 {
		return nil
	}
	return append([]byte(nil), cam.LastImage...)
}

func (o *Orchestrator) detectorFor(baseURL string) Detector {
	o.mu.Lock()
	defer o.mu.Unlock()

	if d, ok := o.detectors[baseURL]; ok {
		return d
	}
	d := o.deps.NewDetector(baseURL)
	o.detectors[baseURL] = d
	return d
}
