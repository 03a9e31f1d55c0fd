// Package commands holds the minisv CLI's cobra command tree: the
// root serve command that runs the supervisor itself, and the client
// subcommands (switch, manage) that talk to a running supervisor over
// its control socket (spec §6).
package commands

import (
	"github.com/spf13/cobra"

	"github.com/minisv/minisv/internal/control"
)

// GlobalArgs holds the persistent flags shared by every subcommand,
// the same shape aenix-io-talm's commands.GlobalArgs takes for its own
// cluster-wide flags.
var GlobalArgs struct {
	SocketPath string
}

// RootCmd is the base command: invoked with no subcommand, it IS the
// supervisor, run in the foreground the way a PID 1 has to be (spec
// §1, §6). "serve" is kept as an explicit alias for init-script
// invocations that always append a subcommand.
var RootCmd = &cobra.Command{
	Use:           "minisv",
	Short:         "A minimal dependency-aware process supervisor",
	SilenceErrors: true,
	SilenceUsage:  true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&GlobalArgs.SocketPath, "socket", control.DefaultSocketPath, "path to the control socket")
}

// addCommand registers a subcommand against RootCmd; subcommand files
// call this from their own init() so RootCmd stays free of per-command
// wiring.
func addCommand(cmd *cobra.Command) {
	RootCmd.AddCommand(cmd)
}
