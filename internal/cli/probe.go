package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/livecheck/internal/capture"
)

func newProbeCommand(a *app) *cobra.Command {
	var device int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the webcam delivers frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			if !cmd.Flags().Changed("device") {
				device = a.cfg.Capture.Device
			}
			size, err := capture.NewWebcam(capture.Options{Device: device}).Probe()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webcam %d is working: %dx%d\n", device, size.X, size.Y)
			return nil
		},
	}
	cmd.Flags().IntVar(&device, "device", 0, "video device index (default from config)")
	return cmd
}
