// Package llmvision escalates qualifying detections to the LLM Vision
// integration for a natural-language description.
package llmvision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Constants passed to llmvision.image_analyzer.
const (
	maxTokens   = 3000
	targetWidth = 1280
)

// ServiceCaller is the slice of the Home Assistant client the analyzer needs.
type ServiceCaller interface {
	CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]any) (map[string]any, error)
}

// Analyzer invokes the vision-language service.
type Analyzer struct {
	caller ServiceCaller
	log    zerolog.Logger
}

func New(caller ServiceCaller, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		caller: caller,
		log:    log.With().Str("component", "llmvision").Logger(),
	}
}

// Describe asks the configured provider to describe the camera's current
// view. Returns the description text.
func (a *Analyzer) Describe(ctx context.Context, provider, prompt, entityID string) (string, error) {
	resp, err := a.caller.CallServiceWithResponse(ctx, "llmvision", "image_analyzer", map[string]any{
		"provider":         provider,
		"message":          prompt,
		"image_entity":     []string{entityID},
		"max_tokens":       maxTokens,
		"target_width":     targetWidth,
		"include_filename": false,
		"expose_images":    false,
		"generate_title":   false,
	})
	if err != nil {
		return "", err
	}

	if text, ok := resp["response_text"].(string); ok && text != "" {
		return text, nil
	}
	if len(resp) > 0 {
		return fmt.Sprintf("%v", resp), nil
	}
	return "", nil
}
