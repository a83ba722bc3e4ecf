package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/livecheck/internal/liveness"
)

func newClassifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <face.json|->",
		Short: "Apply the attribute rules to a stored face analysis",
		Long:  "Accepts a single FaceDetail object or a full DetectFaces response with a FaceDetails list.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(false); err != nil {
				return err
			}

			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("error reading face analysis: %w", err)
			}

			faces, err := parseFaces(data)
			if err != nil {
				return err
			}
			verdict := liveness.NewClassifier(a.cfg.Liveness.Rules).ClassifyAny(faces)
			return printJSON(cmd.OutOrStdout(), verdict)
		},
	}
}

// parseFaces decodes either a DetectFaces response or a single face record.
func parseFaces(data []byte) ([]liveness.FaceAttributes, error) {
	var response struct {
		FaceDetails *[]liveness.FaceAttributes `json:"FaceDetails"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("invalid face analysis JSON: %w", err)
	}
	if response.FaceDetails != nil {
		return *response.FaceDetails, nil
	}

	var face liveness.FaceAttributes
	if err := json.Unmarshal(data, &face); err != nil {
		return nil, fmt.Errorf("invalid face analysis JSON: %w", err)
	}
	return []liveness.FaceAttributes{face}, nil
}
