package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lauritssn/yolo-llm-vision/internal/annotate"
	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/events"
	"github.com/lauritssn/yolo-llm-vision/internal/ha"
	"github.com/lauritssn/yolo-llm-vision/internal/llmvision"
	"github.com/lauritssn/yolo-llm-vision/internal/media"
	"github.com/lauritssn/yolo-llm-vision/internal/notify"
	"github.com/lauritssn/yolo-llm-vision/internal/vision"
)

var forceLLM bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <entity_id>",
	Short: "Run a single analysis and print the result",
	Long: `Runs the full pipeline once for the given camera entity: snapshot,
detection, filtering, and on a qualifying detection the configured side
effects (escalation, event, notification). Prints the result as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, log, err := loadSettings()
		if err != nil {
			return err
		}
		if settings.HomeAssistantURL == "" || settings.HomeAssistantToken == "" {
			return errors.New("ha_url and ha_token are required")
		}

		haClient := ha.NewClient(settings.HomeAssistantURL, settings.HomeAssistantToken, log)
		orch := vision.NewOrchestrator(vision.Deps{
			Config:    config.NewStore(settings),
			Snapshots: haClient,
			Escalator: llmvision.New(haClient, log),
			Images:    media.NewStore(settings.MediaDir, log),
			Notifier:  notify.New(haClient, log),
			Events:    events.NewEmitter(haClient, nil, settings.MQTTTopicPrefix, log),
			Annotate:  annotate.Render,
			Log:       log,
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		result := orch.Analyze(ctx, args[0], forceLLM)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if result.Error {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&forceLLM, "force-llm", false, "request escalation regardless of the provider gate")
	rootCmd.AddCommand(analyzeCmd)
}
