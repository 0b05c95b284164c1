// Command myclass records class attendance offline-first and keeps it in
// sync with the remote session service.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/myclass/attendsync/internal/auth"
	"github.com/myclass/attendsync/internal/config"
	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/logging"
	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/ui"
)

// annotationNoConfig marks commands that run without loading the config,
// such as the one that creates it.
const annotationNoConfig = "myclass/no-config"

var (
	configFile string

	v       = config.New()
	cfg     *config.Config
	logSink *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "myclass",
	Short: "Offline-first attendance register",
	Long: `myclass records attendance sessions in a local database first and pushes
them to the remote session service when it can be reached.

Sessions that could not be pushed stay marked unsynced and are retried on
every history, sync or refresh.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
		if cmd.Annotations[annotationNoConfig] != "" {
			logSink = logging.Open(logging.Options{})
			return
		}
		loaded, err := config.Load(v, configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		logSink = logging.Open(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logSink != nil {
			_ = logSink.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "attendance", Title: "Attendance:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "server", Title: "Remote service:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default $HOME/.myclass/config.toml)")
	pf.String("db", "", "local database path")
	pf.String("owner", "", "staff identity sessions are recorded under")
	pf.String("remote-url", "", "remote session service URL")
	pf.String("timezone", "", "timezone for calendar-day filters")

	_ = v.BindPFlag("db_path", pf.Lookup("db"))
	_ = v.BindPFlag("owner", pf.Lookup("owner"))
	_ = v.BindPFlag("remote.url", pf.Lookup("remote-url"))
	_ = v.BindPFlag("timezone", pf.Lookup("timezone"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatalf prints an error and exits, the way every command reports failure.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// app is the reconciler of the signed-in owner and its local store.
type app struct {
	owner string
	loc   *time.Location
	store *localdb.Handle
	rec   *reconcile.Reconciler
}

var errNoOwner = errors.New("no owner configured: set owner in the config file, MYCLASS_OWNER or --owner, or set remote.token")

// openApp builds the reconciler for the configured owner. obs may be nil.
func openApp(obs reconcile.Observer) (*app, error) {
	owner := auth.Resolve(cfg.Owner, cfg.Remote.Token)
	if owner == "" {
		return nil, errNoOwner
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store := localdb.NewHandle(cfg.DBPath, loc)
	rec := reconcile.New(reconcile.Config{
		Store:         store,
		Remote:        remote.NewClient(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout),
		Owner:         auth.Static(owner),
		Observer:      obs,
		Logger:        logSink.Logger("[reconcile] "),
		RemoteTimeout: cfg.Remote.Timeout,
		Location:      loc,
	})
	return &app{owner: owner, loc: loc, store: store, rec: rec}, nil
}

func mustOpenApp(obs reconcile.Observer) *app {
	a, err := openApp(obs)
	if err != nil {
		fatalf("%v", err)
	}
	return a
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing local database: %v\n", err)
	}
}
