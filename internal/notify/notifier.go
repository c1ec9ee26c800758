// Package notify dispatches human-readable detection notifications through a
// Home Assistant notify target.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ServiceCaller is the slice of the Home Assistant client the notifier needs.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Notifier sends detection notifications.
type Notifier struct {
	caller ServiceCaller
	log    zerolog.Logger
}

func New(caller ServiceCaller, log zerolog.Logger) *Notifier {
	return &Notifier{
		caller: caller,
		log:    log.With().Str("component", "notify").Logger(),
	}
}

// Message builds the notification text: the escalation summary when present,
// otherwise a templated sentence naming classes, camera, and confidence.
func Message(summary, entityID string, confidence float64, classes []string) string {
	if summary != "" {
		return summary
	}
	classStr := "object"
	if len(classes) > 0 {
		classStr = strings.Join(classes, ", ")
	}
	return fmt.Sprintf("%s detected on %s (confidence: %.0f%%)", classStr, entityID, confidence*100)
}

// Send dispatches a notification to target, formatted as
// "<namespace>.<action>". A malformed target is skipped with a warning.
func (n *Notifier) Send(ctx context.Context, target, entityID, summary string, confidence float64, classes []string) error {
	domain, action, ok := strings.Cut(target, ".")
	if !ok || domain == "" || action == "" {
		n.log.Warn().Str("target", target).Msg("malformed notify target, skipping")
		return nil
	}

	return n.caller.CallService(ctx, domain, action, map[string]any{
		"title":   "Detection — " + entityID,
		"message": Message(summary, entityID, confidence, classes),
	})
}
