package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/sidecar"
)

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the detection sidecar's class vocabulary",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, log, err := loadSettings()
		if err != nil {
			return err
		}

		snap := config.NewStore(settings).Snapshot()
		client := sidecar.NewClient(snap.SidecarURL, log)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		classes, err := client.Classes(ctx)
		if err != nil {
			return err
		}
		for _, class := range classes {
			fmt.Println(class)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classesCmd)
}
