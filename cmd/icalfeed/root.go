package main

import (
	"os"

	"github.com/spf13/cobra"

	appLog "icalfeed/internal/log"
)

// newRootCmd builds the command tree.
func newRootCmd(version string) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "icalfeed",
		Short: "Tolerant iCalendar parser, generator and feed server",
		Long: `icalfeed parses iCalendar (RFC 5545) text into a keyed mapping of
components, regenerates calendar text from it and expands recurring events.

It can run as:
  - A one-shot CLI over a file or URL (parse, generate, expand)
  - A server that refreshes configured feeds on a schedule (serve)`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			appLog.SetLevel(appLog.ParseLevel(logLevel))
		},
	}
	root.SetVersionTemplate(`{{printf "icalfeed version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, error")

	root.AddCommand(newParseCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newExpandCmd())
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute(version string) {
	if err := newRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
