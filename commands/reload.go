package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minisv/minisv/internal/control"
)

// reloadCmd triggers spec §4.6's Reload on a running supervisor,
// equivalent to sending it SIGHUP.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the running supervisor's configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := control.NewClient(GlobalArgs.SocketPath)
		if err := cl.Reload(); err != nil {
			return exitForControlError(err)
		}
		fmt.Println("reload requested")
		return nil
	},
}

func init() {
	addCommand(reloadCmd)
}
