package cmd

import (
	"github.com/spf13/cobra"
)

// Injected at build time using ldflags.
var (
	version = ""
	commit  = ""
)

// NewRootCommand creates the `broker` command with its children.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "broker [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Distributed image-generation dispatch broker",
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	cmd.AddCommand(NewServeCommand(NewServeOptions()))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return version + " (commit: " + commit + ")"
}
