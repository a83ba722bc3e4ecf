package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/livecheck/internal/bootstrap"
	"github.com/example/livecheck/internal/storage"
)

func newStorageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage uploaded frames",
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every uploaded frame under the configured prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			if a.cfg.AWS.Bucket == "" {
				return errors.New("S3_BUCKET environment variable not set")
			}

			prompt := fmt.Sprintf("Delete all objects in s3://%s/%s?", a.cfg.AWS.Bucket, a.cfg.Storage.KeyPrefix)
			if !yes && !confirm(bufio.NewReader(cmd.InOrStdin()), cmd, prompt) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			awsCfg, err := bootstrap.LoadAWSConfig(cmd.Context(), a.cfg.AWS)
			if err != nil {
				return err
			}
			store := storage.NewS3Store(bootstrap.NewS3Client(awsCfg, a.cfg.AWS), a.cfg.AWS.Bucket, a.cfg.Storage.KeyPrefix, a.logger)
			deleted, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All objects in %s have been deleted (%d).\n", a.cfg.AWS.Bucket, deleted)
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.AddCommand(clearCmd)
	return cmd
}

func confirm(r *bufio.Reader, cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
