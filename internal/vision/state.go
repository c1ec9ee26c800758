package vision

import (
	"math"
	"strings"
	"time"
)

// CameraState is the per-camera detection state. One instance exists per
// camera entity, created lazily and never destroyed. It is mutated only by
// the orchestrator's analysis routine; everything handed out is a copy.
type CameraState struct {
	Detected        bool
	Confidence      float64
	DetectionCount  int
	ClassesDetected []string
	LastImage       []byte
	LastSeen        time.Time // zero means no qualifying detection yet
	AnalysisSummary string
	InferenceTimeMs float64
}

func (c *CameraState) clone() CameraState {
	out := *c
	out.ClassesDetected = append([]string(nil), c.ClassesDetected...)
	out.LastImage = append([]byte(nil), c.LastImage...)
	return out
}

// View is the read-only observer projection of a camera's state.
type View struct {
	EntityID        string  `json:"entity_id"`
	Detected        bool    `json:"detected"`
	ConfidencePct   float64 `json:"confidence_pct"`
	DetectionCount  int     `json:"detection_count"`
	Classes         string  `json:"classes"`
	LastSeen        string  `json:"last_seen,omitempty"`
	AnalysisSummary string  `json:"analysis_summary,omitempty"`
	HasImage        bool    `json:"has_image"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

func viewOf(entityID string, c CameraState) View {
	v := View{
		EntityID:        entityID,
		Detected:        c.Detected,
		ConfidencePct:   math.Round(c.Confidence*1000) / 10,
		DetectionCount:  c.DetectionCount,
		Classes:         "none",
		AnalysisSummary: c.AnalysisSummary,
		HasImage:        len(c.LastImage) > 0,
		InferenceTimeMs: c.InferenceTimeMs,
	}
	if len(c.ClassesDetected) > 0 {
		v.Classes = strings.Join(c.ClassesDetected, ", ")
	}
	if !c.LastSeen.IsZero() {
		v.LastSeen = c.LastSeen.UTC().Format(time.RFC3339)
	}
	return v
}
