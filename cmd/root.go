package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mergebot",
	Short: "A bot that integrates reviewed pull requests",
	Long: `mergebot evaluates pull requests for merge readiness, resolves
backports and merge sources, synthesizes final commit messages and pushes
integrations with a crash-safe audit trail.`,
}

func Execute() error {
	return rootCmd.Execute()
}
