// Package config loads service settings and resolves the two-layer
// base + live-override configuration into immutable per-analysis snapshots.
package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

// Defaults for the analysis-facing settings.
const (
	DefaultSidecarURL = "http://localhost:8000"
	DefaultConfidence = 0.6
	DefaultPrompt     = "Describe what you see. Focus on people — what are they doing, " +
		"what are they wearing, do they appear to be a threat or acting unusually?"
)

// DefaultDetectionClasses is the default class allow-list. "wolf" is not in
// COCO-80 and only matters for custom sidecar models; the resolver drops it
// with a warning on stock models.
var DefaultDetectionClasses = []string{
	"person", "dog", "car", "truck", "horse", "cow", "bear", "wolf",
}

// Settings is the base configuration layer, loaded once at startup.
type Settings struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	HomeAssistantURL   string `mapstructure:"ha_url"`
	HomeAssistantToken string `mapstructure:"ha_token"`

	SidecarURL          string   `mapstructure:"sidecar_url"`
	Cameras             []string `mapstructure:"cameras"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	DetectionClasses    []string `mapstructure:"detection_classes"`
	DrawBoxes           bool     `mapstructure:"draw_boxes"`
	SaveAnnotated       bool     `mapstructure:"save_annotated_image"`
	LLMProvider         string   `mapstructure:"llm_provider"`
	LLMPrompt           string   `mapstructure:"llm_prompt"`
	NotifyService       string   `mapstructure:"notify_service"`

	MediaDir     string `mapstructure:"media_dir"`
	DatabasePath string `mapstructure:"database_path"`

	MQTTBroker      string `mapstructure:"mqtt_broker"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`

	AuthEnabled  bool   `mapstructure:"auth_enabled"`
	AuthUsername string `mapstructure:"auth_username"`
	AuthPassword string `mapstructure:"auth_password"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

// Overrides is the live override layer. Nil fields inherit from the base
// settings; set fields win.
type Overrides struct {
	SidecarURL          *string   `json:"sidecar_url,omitempty"`
	Cameras             []string  `json:"cameras,omitempty"`
	ConfidenceThreshold *float64  `json:"confidence_threshold,omitempty"`
	DetectionClasses    []string  `json:"detection_classes,omitempty"`
	DrawBoxes           *bool     `json:"draw_boxes,omitempty"`
	SaveAnnotated       *bool     `json:"save_annotated_image,omitempty"`
	LLMProvider         *string   `json:"llm_provider,omitempty"`
	LLMPrompt           *string   `json:"llm_prompt,omitempty"`
	NotifyService       *string   `json:"notify_service,omitempty"`
}

// Snapshot is the immutable configuration handed to one analysis run.
type Snapshot struct {
	SidecarURL          string
	Cameras             []string
	ConfidenceThreshold float64
	DetectionClasses    []string
	DrawBoxes           bool
	SaveAnnotated       bool
	LLMProvider         string
	LLMPrompt           string
	NotifyService       string
}

// LLMEnabled reports whether escalation is configured.
func (s Snapshot) LLMEnabled() bool { return s.LLMProvider != "" }

// Resolve merges the override layer onto the base settings and clamps the
// confidence threshold to its documented range.
func Resolve(base Settings, ov *Overrides) Snapshot {
	snap := Snapshot{
		SidecarURL:          base.SidecarURL,
		Cameras:             append([]string(nil), base.Cameras...),
		ConfidenceThreshold: base.ConfidenceThreshold,
		DetectionClasses:    append([]string(nil), base.DetectionClasses...),
		DrawBoxes:           base.DrawBoxes,
		SaveAnnotated:       base.SaveAnnotated,
		LLMProvider:         base.LLMProvider,
		LLMPrompt:           base.LLMPrompt,
		NotifyService:       base.NotifyService,
	}

	if ov != nil {
		if ov.SidecarURL != nil {
			snap.SidecarURL = *ov.SidecarURL
		}
		if len(ov.Cameras) > 0 {
			snap.Cameras = append([]string(nil), ov.Cameras...)
		}
		if ov.ConfidenceThreshold != nil {
			snap.ConfidenceThreshold = *ov.ConfidenceThreshold
		}
		if len(ov.DetectionClasses) > 0 {
			snap.DetectionClasses = append([]string(nil), ov.DetectionClasses...)
		}
		if ov.DrawBoxes != nil {
			snap.DrawBoxes = *ov.DrawBoxes
		}
		if ov.SaveAnnotated != nil {
			snap.SaveAnnotated = *ov.SaveAnnotated
		}
		if ov.LLMProvider != nil {
			snap.LLMProvider = *ov.LLMProvider
		}
		if ov.LLMPrompt != nil {
			snap.LLMPrompt = *ov.LLMPrompt
		}
		if ov.NotifyService != nil {
			snap.NotifyService = *ov.NotifyService
		}
	}

	if snap.SidecarURL == "" {
		snap.SidecarURL = DefaultSidecarURL
	}
	if snap.LLMPrompt == "" {
		snap.LLMPrompt = DefaultPrompt
	}
	if snap.ConfidenceThreshold == 0 {
		snap.ConfidenceThreshold = DefaultConfidence
	}
	if snap.ConfidenceThreshold < 0.1 {
		snap.ConfidenceThreshold = 0.1
	}
	if snap.ConfidenceThreshold > 1.0 {
		snap.ConfidenceThreshold = 1.0
	}
	return snap
}

// Store owns the two configuration layers and produces snapshots. The
// orchestrator reads one snapshot per analysis and never mutates it.
type Store struct {
	mu        sync.RWMutex
	base      Settings
	overrides *Overrides
}

func NewStore(base Settings) *Store {
	return &Store{base: base}
}

// Snapshot resolves both layers into an immutable snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Resolve(s.base, s.overrides)
}

// SetOverrides replaces the live override layer. Pass nil to clear.
func (s *Store) SetOverrides(ov *Overrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = ov
}

// Base returns a copy of the base settings.
func (s *Store) Base() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// Load reads settings via viper from the given config file (or the default
// search path when empty), with VISIOND_* environment variables on top.
func Load(cfgFile string) (Settings, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8099")
	v.SetDefault("log_level", "info")
	v.SetDefault("sidecar_url", DefaultSidecarURL)
	v.SetDefault("confidence_threshold", DefaultConfidence)
	v.SetDefault("detection_classes", DefaultDetectionClasses)
	v.SetDefault("draw_boxes", true)
	v.SetDefault("save_annotated_image", true)
	v.SetDefault("llm_prompt", DefaultPrompt)
	v.SetDefault("media_dir", "./media")
	v.SetDefault("database_path", "./visiond.db")
	v.SetDefault("mqtt_topic_prefix", "yolo_llm_vision")
	v.SetDefault("auth_username", "admin")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("visiond")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/visiond")
	}

	v.SetEnvPrefix("VISIOND")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults + env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return s, nil
}
