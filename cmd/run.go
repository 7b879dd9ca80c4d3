package cmd

import (
	"github.com/spf13/cobra"
)

// newRunCmd creates the run command, the long-lived polling mode.
func newRunCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the integration bot until interrupted",
		Long: `Run polls the configured repository for open pull requests and
drives each one through readiness evaluation, command handling and
integration. The loop only terminates on interruption or when the
integrity audit trail detects a competing writer.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newContainer(*verbose)
			if err != nil {
				return err
			}
			defer func() { _ = c.log.Sync() }()
			poller, err := c.newPoller(cmd.Context())
			if err != nil {
				return err
			}
			return poller.Run(cmd.Context())
		},
	}
}
