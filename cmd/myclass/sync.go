package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/myclass/attendsync/internal/dashboard"
	"github.com/myclass/attendsync/internal/inbox"
	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push unsynced sessions to the remote service",
	Long: `Retry every session of the current owner that is stored locally but not
yet acknowledged by the remote service. Sessions that still fail stay
unsynced for the next attempt.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.Close()

		res, err := a.rec.Sweep(cmd.Context())
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		printSweep(res)
		if res.Failed > 0 {
			os.Exit(2)
		}
	},
}

func printSweep(res reconcile.SweepResult) {
	if res.Pending == 0 {
		fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
		return
	}
	mark := ui.RenderPass("✓")
	if res.Failed > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s Synced %d of %d sessions\n", mark, res.Synced, res.Pending)
	if res.Failed > 0 {
		fmt.Printf("   Failed:     %d (still unsynced)\n", res.Failed)
	}
	if res.Skipped > 0 {
		fmt.Printf("   In flight:  %d\n", res.Skipped)
	}
	if res.Superseded > 0 {
		fmt.Printf("   Superseded: %d (deleted while pushing)\n", res.Superseded)
	}
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Save attendance requests dropped into a directory",
	Long: `Watch a directory for save requests and record each one.

A request is a JSON file:

  {"context": {"sessionDetails": "Period 3", "subject": {"code": "CS401"}},
   "students": [{"regNo": "21CS001", "name": "Priya", "status": "present"}]}

Saved requests move to processed/, rejected ones to failed/ with an .err
file explaining why. Unsynced sessions are retried on start and whenever
the process receives SIGHUP.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Inbox.Dir
		}
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var obs reconcile.Observer
		var dash *dashboard.Server
		if withDashboard {
			dash = dashboard.NewServer(dashboard.Config{Port: cfg.Dashboard.Port, Logger: logSink.Logger("[dashboard] ")})
			obs = dash
			if err := dash.Start(); err != nil {
				fatalf("starting dashboard: %v", err)
			}
			defer dash.Stop()
			fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("📡"), dash.Addr())
		}

		a := mustOpenApp(obs)
		defer a.Close()

		in, err := inbox.New(dir, a.rec, &inbox.Config{
			DebounceInterval: cfg.Inbox.Debounce,
			Logger:           logSink.Logger("[inbox] "),
		})
		if err != nil {
			fatalf("%v", err)
		}
		in.OnProcessed = func(o inbox.Outcome) {
			switch {
			case o.Err == nil:
				fmt.Printf("%s %s saved as %s\n", ui.RenderPass("✓"), o.Path, o.SessionID)
			case o.Retry:
				fmt.Printf("%s %s will be retried: %v\n", ui.RenderWarn("⚠"), o.Path, o.Err)
			default:
				fmt.Printf("%s %s rejected: %v\n", ui.RenderFail("✗"), o.Path, o.Err)
			}
		}

		go refreshOnHangup(ctx, a.rec)

		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("👀"), in.Dir())
		if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatalf("%v", err)
		}
	},
}

// refreshOnHangup runs a Refresh, which sweeps, each time SIGHUP arrives.
func refreshOnHangup(ctx context.Context, rec *reconcile.Reconciler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			rep, err := rec.Refresh(ctx, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error refreshing: %v\n", err)
				continue
			}
			fmt.Printf("%s Refreshed: %d sessions, %d of %d unsynced pushed\n",
				ui.RenderAccent("🔄"), rep.Local+rep.Remote, rep.Sweep.Synced, rep.Sweep.Pending)
		}
	}
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Start the live attendance dashboard",
	Long: `Start a WebSocket server that streams session changes and sync results.

Connect to ws://localhost:<port>/ws to receive JSON messages. The first is a
snapshot with the current stats and the latest activity, followed by:
  - session_saved, session_synced, session_deleted
  - sessions_cleared, sweep_complete
  - stats

GET /snapshot returns the same snapshot without a WebSocket.

The dashboard hydrates once on start. Send SIGHUP to refresh.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logSink.Logger("[dashboard] ")
		server := dashboard.NewServer(dashboard.Config{Port: port, Logger: logger})

		a := mustOpenApp(server)
		defer a.Close()

		if err := server.Start(); err != nil {
			fatalf("starting dashboard: %v", err)
		}

		fmt.Printf("%s Dashboard running on http://%s\n", ui.RenderAccent("📡"), server.Addr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.Addr())
		fmt.Printf("   Snapshot:  http://%s/snapshot\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop")

		if _, err := a.rec.Hydrate(ctx, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: hydrate failed: %v\n", err)
		}
		go refreshOnHangup(ctx, a.rec)

		<-ctx.Done()
		fmt.Println("\nShutting down dashboard...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "directory to watch (default inbox.dir)")
	watchCmd.Flags().Bool("dashboard", false, "also serve the live dashboard on dashboard.port")

	dashboardCmd.Flags().IntP("port", "p", 8080, "port to listen on")

	rootCmd.AddCommand(syncCmd, watchCmd, dashboardCmd)
}
