package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/minisv/minisv/internal/confine"
	"github.com/minisv/minisv/internal/control"
	"github.com/minisv/minisv/internal/core"
	"github.com/minisv/minisv/internal/logsink"
	"github.com/minisv/minisv/internal/registry"
)

var serveFlags struct {
	configPath    string
	logPath       string
	initialLevel  int
	stopGrace     time.Duration
	cgroupBase    string
	strictConfine bool
	noConfine     bool
}

// serveCmd is the default action: it IS the supervisor, run in the
// foreground the way a PID 1 has to be (spec §1, §6).
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "/etc/minisv/services.conf", "path to the service configuration file")
	serveCmd.Flags().StringVar(&serveFlags.logPath, "log", "/var/log/minisv/log", "path to the supervisor's log file")
	serveCmd.Flags().IntVar(&serveFlags.initialLevel, "runlevel", 1, "runlevel to boot into")
	serveCmd.Flags().DurationVar(&serveFlags.stopGrace, "stop-grace", core.DefaultStopGrace, "grace period between SIGTERM and SIGKILL")
	serveCmd.Flags().StringVar(&serveFlags.cgroupBase, "cgroup-base", "minisv", "base cgroup v2 path (relative to /sys/fs/cgroup) for resource confinement")
	serveCmd.Flags().BoolVar(&serveFlags.strictConfine, "strict-resources", false, "fail a service's start if its resource envelope cannot be applied")
	serveCmd.Flags().BoolVar(&serveFlags.noConfine, "no-confine", false, "disable cgroup resource confinement entirely")
	RootCmd.AddCommand(serveCmd)
}

func runServe() error {
	f, err := os.Open(serveFlags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minisv: cannot open config: %v\n", err)
		os.Exit(2)
	}
	reg, err := registry.Load(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "minisv: %v\n", err)
		os.Exit(2)
	}

	sink, err := logsink.Open(serveFlags.logPath, logsink.DefaultMaxSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minisv: cannot open log sink: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()
	log := sink.SugaredLogger

	var confiner *confine.Applier
	if !serveFlags.noConfine {
		confiner = confine.NewApplier(serveFlags.cgroupBase, serveFlags.strictConfine, log)
	}

	sup := core.New(reg, serveFlags.initialLevel, confiner, log, serveFlags.configPath, serveFlags.stopGrace)

	srv, err := control.Listen(GlobalArgs.SocketPath, sup, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minisv: cannot bind control socket: %v\n", err)
		os.Exit(3)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Errorw("control server stopped", "error", err)
		}
	}()
	defer srv.Close()

	log.Infow("minisv starting", "pid", os.Getpid(), "config", serveFlags.configPath, "runlevel", serveFlags.initialLevel)
	return sup.Run()
}
