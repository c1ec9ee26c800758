// Package events publishes detection events to the Home Assistant event bus,
// with an optional MQTT mirror.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventDetection is the event type fired on a qualifying detection.
const EventDetection = "yolo_llm_vision_detection"

const publishTimeout = 5 * time.Second

// Detection is the payload of a qualifying-detection event.
type Detection struct {
	EventID         string    `json:"event_id"`
	EntityID        string    `json:"entity_id"`
	Detected        bool      `json:"detected"`
	Confidence      float64   `json:"confidence"`
	DetectionCount  int       `json:"detection_count"`
	ClassesDetected []string  `json:"classes_detected"`
	LastSeen        time.Time `json:"last_seen"`
	AnalysisSummary string    `json:"analysis_summary,omitempty"`
}

func (d Detection) toMap() map[string]any {
	m := map[string]any{
		"event_id":         d.EventID,
		"entity_id":        d.EntityID,
		"detected":         d.Detected,
		"confidence":       d.Confidence,
		"detection_count":  d.DetectionCount,
		"classes_detected": d.ClassesDetected,
		"last_seen":        d.LastSeen.Format(time.RFC3339),
	}
	if d.AnalysisSummary != "" {
		m["analysis_summary"] = d.AnalysisSummary
	}
	return m
}

// EventFirer is the slice of the Home Assistant client the emitter needs.
type EventFirer interface {
	FireEvent(ctx context.Context, eventType string, payload map[string]any) error
}

// Emitter fires detection events.
type Emitter struct {
	ha          EventFirer
	mqtt        mqtt.Client
	topicPrefix string
	log         zerolog.Logger
}

// NewEmitter builds an emitter. mqttClient may be nil to disable mirroring.
func NewEmitter(ha EventFirer, mqttClient mqtt.Client, topicPrefix string, log zerolog.Logger) *Emitter {
	return &Emitter{
		ha:          ha,
		mqtt:        mqttClient,
		topicPrefix: topicPrefix,
		log:         log.With().Str("component", "events").Logger(),
	}
}

// EmitDetection assigns an event id, fires the platform event, and mirrors it
// to MQTT when configured. The MQTT mirror is best-effort.
func (e *Emitter) EmitDetection(ctx context.Context, d Detection) error {
	if d.EventID == "" {
		d.EventID = uuid.NewString()
	}

	if err := e.ha.FireEvent(ctx, EventDetection, d.toMap()); err != nil {
		return fmt.Errorf("fire detection event: %w", err)
	}

	if e.mqtt != nil && e.mqtt.IsConnected() {
		if err := e.mirror(d); err != nil {
			e.log.Warn().Err(err).Str("entity_id", d.EntityID).Msg("mqtt mirror failed")
		}
	}
	return nil
}

func (e *Emitter) mirror(d Detection) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	topic := e.topicPrefix + "/" + d.EntityID
	token := e.mqtt.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// NewMQTTClient connects to a broker for event mirroring. Returns nil when no
// broker is configured.
func NewMQTTClient(broker string, log zerolog.Logger) (mqtt.Client, error) {
	if broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("visiond-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(publishTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	log.Info().Str("broker", broker).Msg("mqtt mirror connected")
	return client, nil
}
