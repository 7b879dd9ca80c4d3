package cmd

import (
	"github.com/spf13/cobra"
)

// newCheckCmd creates the check command: a single evaluation cycle,
// useful from cron or CI.
func newCheckCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single evaluation cycle and exit",
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
			return poller.Once(cmd.Context())
		},
	}
}
