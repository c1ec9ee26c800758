package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lauritssn/yolo-llm-vision/internal/annotate"
	"github.com/lauritssn/yolo-llm-vision/internal/auth"
	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/events"
	"github.com/lauritssn/yolo-llm-vision/internal/ha"
	"github.com/lauritssn/yolo-llm-vision/internal/llmvision"
	"github.com/lauritssn/yolo-llm-vision/internal/media"
	"github.com/lauritssn/yolo-llm-vision/internal/notify"
	"github.com/lauritssn/yolo-llm-vision/internal/server"
	"github.com/lauritssn/yolo-llm-vision/internal/sidecar"
	"github.com/lauritssn/yolo-llm-vision/internal/store"
	"github.com/lauritssn/yolo-llm-vision/internal/trigger"
	"github.com/lauritssn/yolo-llm-vision/internal/vision"
	"github.com/lauritssn/yolo-llm-vision/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection service",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, log, err := loadSettings()
		if err != nil {
			return err
		}
		return serve(settings, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// cameraSource adapts the config store for the trigger listener.
type cameraSource struct{ cfg *config.Store }

func (c cameraSource) Cameras() []string { return c.cfg.Snapshot().Cameras }

// asyncAnalyzer runs triggered analyses in the background.
type asyncAnalyzer struct {
	orch *vision.Orchestrator
}

func (a asyncAnalyzer) Trigger(entityID string) {
	go a.orch.Analyze(context.Background(), entityID, false)
}

func serve(settings config.Settings, log zerolog.Logger) error {
	if settings.HomeAssistantURL == "" || settings.HomeAssistantToken == "" {
		return errors.New("ha_url and ha_token are required")
	}

	cfg := config.NewStore(settings)
	haClient := ha.NewClient(settings.HomeAssistantURL, settings.HomeAssistantToken, log)

	history, err := store.Open(settings.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	mqttClient, err := events.NewMQTTClient(settings.MQTTBroker, log)
	if err != nil {
		// The service is useful without the mirror, keep going.
		log.Warn().Err(err).Msg("mqtt mirror unavailable")
	}
	if mqttClient != nil {
		defer mqttClient.Disconnect(250)
	}
	emitter := events.NewEmitter(haClient, mqttClient, settings.MQTTTopicPrefix, log)

	orch := vision.NewOrchestrator(vision.Deps{
		Config:    cfg,
		Snapshots: haClient,
		Escalator: llmvision.New(haClient, log),
		Images:    media.NewStore(settings.MediaDir, log),
		Notifier:  notify.New(haClient, log),
		Events:    emitter,
		History:   history,
		Annotate:  annotate.Render,
		Log:       log,
	})

	hub := ws.NewHub(log)
	hub.Attach(orch.Bus())
	defer hub.Detach()

	probe := sidecar.NewClient(cfg.Snapshot().SidecarURL, log)
	probeSidecar(probe, log)

	srv := &http.Server{
		Addr: settings.ListenAddr,
		Handler: server.New(server.Deps{
			Orchestrator:  orch,
			Config:        cfg,
			Authenticator: auth.NewAuthenticator(settings, log),
			History:       history,
			Hub:           hub,
			Sidecar:       probe,
			Log:           log,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(settings.Cameras) > 0 {
		listener, err := trigger.NewListener(
			settings.HomeAssistantURL, settings.HomeAssistantToken,
			cameraSource{cfg}, asyncAnalyzer{orch}, log)
		if err != nil {
			return err
		}
		go listener.Run(ctx)
	} else {
		log.Info().Msg("no cameras configured, running in on-demand mode")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", settings.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// probeSidecar logs sidecar availability at startup. A down sidecar is not
// fatal, analyses will fail until it comes up.
func probeSidecar(probe *sidecar.Client, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := probe.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("detection sidecar unreachable")
		return
	}
	log.Info().Str("status", info.Status).Str("model", info.Model).Msg("detection sidecar ready")
}
