package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minisv/minisv/internal/control"
	"github.com/minisv/minisv/internal/errs"
)

// manageCmd groups the three per-service control calls spec §4.6
// exposes: start, stop, status.
var manageCmd = &cobra.Command{
	Use:   "manage",
	Short: "Start, stop, or query a single service on the running supervisor",
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControlCall(func(c *control.Client) error { return c.Start(args[0]) })
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControlCall(func(c *control.Client) error { return c.Stop(args[0]) })
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Report a service's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := control.NewClient(GlobalArgs.SocketPath)
		st, err := cl.Status(args[0])
		if err != nil {
			return exitForControlError(err)
		}
		fmt.Printf("%s\t%s\tattempts=%d\n", st.Name, st.State, st.Attempts)
		if st.LastExit != nil {
			fmt.Printf("  last exit: code=%d signal=%d at=%s\n", st.LastExit.Code, st.LastExit.Signal, st.LastExit.At)
		}
		return nil
	},
}

func init() {
	manageCmd.AddCommand(startCmd, stopCmd, statusCmd)
	addCommand(manageCmd)
}

func runControlCall(call func(c *control.Client) error) error {
	cl := control.NewClient(GlobalArgs.SocketPath)
	if err := call(cl); err != nil {
		return exitForControlError(err)
	}
	return nil
}

// exitForControlError maps a control-layer error to the CLI exit codes
// of spec §6: unreachable sockets are a distinct failure mode from a
// rejected request (unknown service, invalid runlevel, and so on).
func exitForControlError(err error) error {
	fmt.Fprintf(os.Stderr, "minisv: %v\n", err)
	if errors.Is(err, errs.ControlProtocolError) {
		os.Exit(4)
	}
	os.Exit(1)
	return nil
}
