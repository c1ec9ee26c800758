// Package coco holds the fixed COCO-80 class vocabulary and the
// confidence/class filtering applied to detector output.
package coco

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Names maps COCO class IDs to class names (standard YOLOv8 ordering).
var Names = [80]string{
	"person", "bicycle", "car", "motorcycle", "airplane",
	"bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe",
	"backpack", "umbrella", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog",
	"pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet",
	"tv", "laptop", "mouse", "remote", "keyboard",
	"cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

var nameToID map[string]int

func init() {
	nameToID = make(map[string]int, len(Names))
	for id, name := range Names {
		nameToID[name] = id
	}
}

// Name returns the class name for an ID, or "class_<id>" for unknown IDs.
func Name(id int) string {
	if id >= 0 && id < len(Names) {
		return Names[id]
	}
	return "class_" + strconv.Itoa(id)
}

// ID resolves a class name to its ID. Matching is case-insensitive and
// whitespace-trimmed.
func ID(name string) (int, bool) {
	id, ok := nameToID[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// ResolveIDs converts a class-name list to a set of class IDs. Unknown names
// are dropped with a warning. An empty input, or an input where every name is
// unknown, returns nil which means "accept all classes". The all-unknown
// collapse mirrors the sidecar and is pinned by tests.
func ResolveIDs(names []string, log zerolog.Logger) map[int]bool {
	if len(names) == 0 {
		return nil
	}
	ids := make(map[int]bool, len(names))
	for _, name := range names {
		if id, ok := ID(name); ok {
			ids[id] = true
		} else {
			log.Warn().Str("class", name).Msg("unknown class name, skipping")
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

// Detection is one detected object as reported by the sidecar.
type Detection struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

// Summary aggregates statistics over a set of accepted detections.
type Summary struct {
	Detected      bool
	Count         int
	Classes       []string // lexicographic, deduplicated
	ConfidenceMax float64
	ConfidenceAvg float64
}

// Filter keeps only detections with confidence >= threshold whose class ID is
// in allowed (nil allowed means every class passes).
func Filter(dets []Detection, threshold float64, allowed map[int]bool) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < threshold {
			continue
		}
		if allowed != nil && !allowed[d.ClassID] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Aggregate computes summary statistics over accepted detections.
func Aggregate(dets []Detection) Summary {
	s := Summary{Count: len(dets), Detected: len(dets) > 0, Classes: []string{}}
	if len(dets) == 0 {
		return s
	}
	seen := make(map[string]bool, len(dets))
	var sum float64
	for _, d := range dets {
		sum += d.Confidence
		if d.Confidence > s.ConfidenceMax {
			s.ConfidenceMax = d.Confidence
		}
		if !seen[d.Class] {
			seen[d.Class] = true
			s.Classes = append(s.Classes, d.Class)
		}
	}
	sort.Strings(s.Classes)
	s.ConfidenceAvg = sum / float64(len(dets))
	return s
}
