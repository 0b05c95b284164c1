package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/myclass/attendsync/internal/config"
	"github.com/myclass/attendsync/internal/legacy"
	"github.com/myclass/attendsync/internal/loadtest"
	"github.com/myclass/attendsync/internal/logging"
	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a default config file",
	Annotations: map[string]string{annotationNoConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path := configFile
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := cfg.YAML()
		if err != nil {
			fatalf("%v", err)
		}
		if used := config.ConfigFile(v); used != "" {
			fmt.Printf("# from %s\n", used)
		}
		os.Stdout.Write(out)
	},
}

var migrateLegacyCmd = &cobra.Command{
	Use:     "migrate-legacy <export.json>",
	GroupID: "maint",
	Short:   "Import sessions exported from the earlier app",
	Long: `Import the session list the earlier on-device app kept under
"myclass.attendance.sessions". The file may hold the bare JSON array or a
storage dump object with that key.

Imported sessions are stored as unsynced and pushed by the next sync.
Sessions already present are skipped, so the import can be repeated.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		a := mustOpenApp(nil)
		defer a.Close()

		db, err := a.store.Get(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		if dryRun {
			fmt.Printf("%s Dry run mode - no changes will be made\n\n", ui.RenderWarn("🔍"))
		}
		res, err := legacy.Import(cmd.Context(), db, legacy.Options{
			From:   args[0],
			Owner:  a.owner,
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fatalf("import failed: %v", err)
		}

		fmt.Printf("%s Import complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Found:    %d\n", res.Found)
		fmt.Printf("   Imported: %d\n", res.Imported)
		fmt.Printf("   Skipped:  %d (already present)\n", res.Skipped)
		if res.BackupCreated != "" {
			fmt.Printf("   Backup:   %s\n", res.BackupCreated)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), e)
		}
		if !dryRun && res.Imported > 0 {
			fmt.Printf("\nRun 'myclass sync' to push the imported sessions.\n")
		}
	},
}

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Stress the sync engine with concurrent saves",
	Long: `Run concurrent saves and sweeps against a scratch database and check that
every session ends up synced exactly once.

By default the remote is an in-memory service where every --fail-every'th
create fails. With --remote the configured session service is used
instead; it should be a scratch server since sessions are created there.`,
	Run: func(cmd *cobra.Command, args []string) {
		workers, _ := cmd.Flags().GetInt("workers")
		saves, _ := cmd.Flags().GetInt("saves")
		students, _ := cmd.Flags().GetInt("students")
		failEvery, _ := cmd.Flags().GetInt("fail-every")
		useRemote, _ := cmd.Flags().GetBool("remote")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir, err := os.MkdirTemp("", "myclass-bench-*")
		if err != nil {
			fatalf("%v", err)
		}
		defer os.RemoveAll(dir)

		lc := loadtest.Config{
			DBPath:         filepath.Join(dir, "bench.db"),
			Workers:        workers,
			SavesPerWorker: saves,
			Students:       students,
			FailEvery:      failEvery,
			Logger:         logging.Discard(),
		}
		if verbose {
			lc.Logger = logSink.Logger("[bench] ")
		}
		if useRemote {
			lc.Remote = remote.NewClient(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout)
			if owner := cfg.Owner; owner != "" {
				lc.Owner = owner
			}
		}

		fmt.Printf("%s Running %d workers x %d saves...\n", ui.RenderAccent("⏱"), workers, saves)
		res, err := loadtest.Run(ctx, lc)
		if err != nil {
			fatalf("%v", err)
		}
		res.Print(os.Stdout)
		if !res.OK() {
			fmt.Printf("\n%s %d violations\n", ui.RenderFail("✗"), len(res.Violations))
			os.Exit(1)
		}
		fmt.Printf("\n%s No lost or duplicated sessions\n", ui.RenderPass("✓"))
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)

	migrateLegacyCmd.Flags().Bool("dry-run", false, "show what would be imported")
	migrateLegacyCmd.Flags().Bool("backup", true, "copy the export file before importing")

	benchCmd.Flags().Int("workers", 8, "concurrent savers")
	benchCmd.Flags().Int("saves", 25, "saves per worker")
	benchCmd.Flags().Int("students", 40, "students per session")
	benchCmd.Flags().Int("fail-every", 3, "make every nth remote create fail (in-memory remote only)")
	benchCmd.Flags().BoolP("verbose", "v", false, "log every save and sweep")
	benchCmd.Flags().Bool("remote", false, "use the configured session service instead of an in-memory one")

	rootCmd.AddCommand(configCmd, migrateLegacyCmd, benchCmd)
}
