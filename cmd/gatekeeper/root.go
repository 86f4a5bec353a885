package main

import (
	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Membership admission bot with audio transcription",
	Long: `gatekeeper runs a chat bot that walks join candidates through a survey,
routes their requests to reviewers for approval, and hands out single-use
invite links. It also supervises a one-at-a-time audio transcription and
insight extraction pipeline.

The server talks to reviewers over chat; the CLI subcommands talk to a
running server over its local admin API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(jobCmd)
}
