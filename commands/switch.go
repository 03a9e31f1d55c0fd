package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/minisv/minisv/internal/control"
)

// switchCmd is the CLI half of spec §4.4's runlevel switch: a thin
// client call against a supervisor already running under serveCmd.
var switchCmd = &cobra.Command{
	Use:   "switch <level>",
	Short: "Switch the running supervisor to a different runlevel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "minisv: invalid runlevel %q\n", args[0])
			os.Exit(2)
		}
		cl := control.NewClient(GlobalArgs.SocketPath)
		if err := cl.Switch(level); err != nil {
			return exitForControlError(err)
		}
		fmt.Printf("switching to runlevel %d\n", level)
		return nil
	},
}

func init() {
	addCommand(switchCmd)
}
