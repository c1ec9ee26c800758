// visiond is the camera detection and analysis service. It watches Home
// Assistant cameras, runs object detection through a YOLO sidecar, and
// escalates qualifying detections to a vision-language model.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lauritssn/yolo-llm-vision/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "visiond",
	Short: "Camera detection and analysis service",
	Long: `visiond bridges Home Assistant cameras, a YOLO detection sidecar, and
LLM Vision. It runs analyses on demand or on camera activity, filters
detections by confidence and class, and publishes qualifying detections
as events, notifications, and history records.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./visiond.yaml)")
}

// loadSettings reads configuration and builds the base logger.
func loadSettings() (config.Settings, zerolog.Logger, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return config.Settings{}, zerolog.Logger{}, err
	}

	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil || settings.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	return settings, log, nil
}
