package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/livecheck/internal/bootstrap"
)

func newAnalyzeCommand(a *app) *cobra.Command {
	var motionOnly bool
	cmd := &cobra.Command{
		Use:   "analyze <frame> <frame> [frame...]",
		Short: "Run the temporal gate on image files",
		Long:  "Decodes the frames in order and reports motion and, when eye cascades are configured, blink evidence. Nothing is sent to AWS.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			components, err := bootstrap.Build(cmd.Context(), a.cfg, bootstrap.Local, a.logger)
			if err != nil {
				return err
			}
			defer components.Close()

			frames := make([][]byte, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("error reading frame: %w", err)
				}
				frames = append(frames, data)
			}

			if motionOnly {
				result, err := components.Pipeline.AnalyzeMovement(frames)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			result, err := components.Pipeline.EvaluateGate(frames)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&motionOnly, "motion-only", false, "report frame differencing only, ignoring the policy")
	return cmd
}
