package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/bootstrap"
	"github.com/example/livecheck/internal/capture"
)

func newCaptureCommand(a *app) *cobra.Command {
	var (
		frames  int
		device  int
		saveDir string
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from the webcam and run a full liveness check",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			opts := capture.Options{
				Device:       a.cfg.Capture.Device,
				Frames:       a.cfg.Capture.Frames,
				Delay:        a.cfg.Capture.Delay,
				InitialDelay: a.cfg.Capture.InitialDelay,
			}
			if cmd.Flags().Changed("frames") {
				opts.Frames = frames
			}
			if cmd.Flags().Changed("device") {
				opts.Device = device
			}
			if opts.Frames < 1 {
				return fmt.Errorf("frames must be positive")
			}

			components, err := bootstrap.Build(cmd.Context(), a.cfg, bootstrap.Remote, a.logger)
			if err != nil {
				return err
			}
			defer components.Close()

			bar := progressbar.NewOptions(opts.Frames,
				progressbar.OptionSetDescription("Capturing"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			opts.OnFrame = func(int) { _ = bar.Add(1) }

			captured, err := capture.NewWebcam(opts).Capture(cmd.Context())
			_ = bar.Finish()
			if err != nil {
				return err
			}

			if saveDir != "" {
				if err := saveFrames(saveDir, captured); err != nil {
					return err
				}
			}

			requestID := uuid.NewString()
			outcome, err := components.Pipeline.Run(cmd.Context(), requestID, captured)
			if err != nil {
				return err
			}
			a.logger.Info("capture check complete", zap.String("request_id", requestID), zap.Bool("is_live", outcome.Verdict.IsLive))
			return printJSON(cmd.OutOrStdout(), outcome)
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 0, "number of frames to capture (default from config)")
	cmd.Flags().IntVar(&device, "device", 0, "video device index (default from config)")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "also write the captured frames to this directory")
	return cmd
}

func saveFrames(dir string, frames [][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating %s: %w", dir, err)
	}
	for i, frame := range frames {
		path := filepath.Join(dir, fmt.Sprintf("image_%d.jpg", i))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return fmt.Errorf("error saving frame: %w", err)
		}
	}
	return nil
}
