package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/ui"
)

var saveCmd = &cobra.Command{
	Use:     "save",
	GroupID: "attendance",
	Short:   "Record an attendance session",
	Long: `Record attendance for one class session.

The roster is a CSV file whose first two columns are the registration
number and the student name. Students are marked with --present/--absent
(comma-separated registration numbers), --all-present, or interactively
with --interactive. Anyone left unmarked is saved as absent.

The session is written to the local database first, then pushed to the
remote service. If the push fails the session stays unsynced and is
retried by the next history, sync or refresh.`,
	Run: func(cmd *cobra.Command, args []string) {
		rosterPath, _ := cmd.Flags().GetString("roster")
		present, _ := cmd.Flags().GetStringSlice("present")
		absent, _ := cmd.Flags().GetStringSlice("absent")
		allPresent, _ := cmd.Flags().GetBool("all-present")
		interactive, _ := cmd.Flags().GetBool("interactive")

		c := session.Context{}
		c.SessionDetails, _ = cmd.Flags().GetString("details")
		c.AcademicYear, _ = cmd.Flags().GetString("year")
		c.SemesterType, _ = cmd.Flags().GetString("semester-type")
		c.Semester, _ = cmd.Flags().GetString("semester")
		c.Section, _ = cmd.Flags().GetString("section")
		code, _ := cmd.Flags().GetString("subject-code")
		name, _ := cmd.Flags().GetString("subject-name")
		if code != "" || name != "" {
			c.Subject = &session.Subject{Code: code, Name: name}
		}

		// #nosec G304 - controlled path from CLI
		f, err := os.Open(rosterPath)
		if err != nil {
			fatalf("opening roster: %v", err)
		}
		roster, err := session.ReadRosterCSV(f)
		f.Close()
		if err != nil {
			fatalf("%v", err)
		}
		if len(roster) == 0 {
			fatalf("roster %s has no students", rosterPath)
		}

		working, unknown := markStudents(roster, present, absent, allPresent)
		for _, reg := range unknown {
			fmt.Fprintf(os.Stderr, "%s %s is not on the roster\n", ui.RenderWarn("⚠"), reg)
		}

		if interactive {
			working, err = markInteractively(working, &c)
			if err != nil {
				fatalf("%v", err)
			}
		}
		if strings.TrimSpace(c.SessionDetails) == "" && c.Label() == "" {
			fatalf("--details is required when no year, semester, section or subject is given")
		}

		a := mustOpenApp(nil)
		defer a.Close()

		s, err := a.rec.Save(cmd.Context(), c, working)
		if err != nil {
			fatalf("saving session: %v", err)
		}

		p, ab := s.Counts()
		fmt.Printf("%s Saved session %s (%d present, %d absent) %s\n",
			ui.RenderPass("✓"), s.ID, p, ab, ui.SyncBadge(s.IsSynced))
		if !s.IsSynced {
			fmt.Printf("   %s\n", ui.RenderMuted("Stored locally; it will be pushed on the next sync."))
		}
	},
}

// markInteractively asks for the session details (if missing) and the
// present students.
func markInteractively(working []session.Student, c *session.Context) ([]session.Student, error) {
	options := make([]huh.Option[string], 0, len(working))
	var selected []string
	for _, s := range working {
		options = append(options, huh.NewOption(s.RegNo+"  "+s.Name, s.RegNo).Selected(s.Status == session.StatusPresent))
		if s.Status == session.StatusPresent {
			selected = append(selected, s.RegNo)
		}
	}

	var fields []huh.Field
	if strings.TrimSpace(c.SessionDetails) == "" {
		fields = append(fields, huh.NewInput().
			Title("Session details").
			Placeholder("e.g. Period 3, lab batch A").
			Value(&c.SessionDetails))
	}
	fields = append(fields, huh.NewMultiSelect[string]().
		Title("Present students").
		Description("space to toggle, enter to confirm").
		Options(options...).
		Height(min(len(options)+2, 20)).
		Value(&selected))

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, err
	}

	isPresent := make(map[string]bool, len(selected))
	for _, reg := range selected {
		isPresent[reg] = true
	}
	out := make([]session.Student, len(working))
	for i, s := range working {
		out[i] = s
		out[i].Status = session.StatusAbsent
		if isPresent[s.RegNo] {
			out[i].Status = session.StatusPresent
		}
	}
	return out, nil
}

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "attendance",
	Short:   "List saved sessions",
	Long: `List the sessions of the current owner, merged from the local database and
the remote service. Unsynced sessions are retried first.

--date filters to one calendar day: 2024-04-05, today, yesterday,
"last friday".`,
	Run: func(cmd *cobra.Command, args []string) {
		dateExpr, _ := cmd.Flags().GetString("date")
		refresh, _ := cmd.Flags().GetBool("refresh")
		format, _ := cmd.Flags().GetString("format")

		a := mustOpenApp(nil)
		defer a.Close()

		day, err := parseDay(dateExpr, time.Now(), a.loc)
		if err != nil {
			fatalf("%v", err)
		}

		load := a.rec.Hydrate
		if refresh {
			load = a.rec.Refresh
		}
		rep, err := load(cmd.Context(), day)
		if err != nil {
			fatalf("loading sessions: %v", err)
		}
		if !rep.RemoteReachable {
			fmt.Fprintf(os.Stderr, "%s Remote service unreachable; showing local sessions only\n", ui.RenderWarn("⚠"))
		}

		if err := writeSessions(os.Stdout, format, a.rec.Sessions(), a.loc); err != nil {
			fatalf("%v", err)
		}
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "attendance",
	Short:   "Show one session with its student list",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		a := mustOpenApp(nil)
		defer a.Close()

		// Hydrate so sessions known only remotely can be shown too.
		if _, err := a.rec.Hydrate(cmd.Context(), nil); err != nil {
			fatalf("loading sessions: %v", err)
		}
		s, err := a.rec.Get(cmd.Context(), args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if s == nil {
			fatalf("session %s not found", args[0])
		}

		if format == "table" || format == "" {
			writeReport(os.Stdout, s, a.loc)
			return
		}
		if err := writeSessions(os.Stdout, format, []*session.Session{s}, a.loc); err != nil {
			fatalf("%v", err)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	GroupID: "attendance",
	Short:   "Delete sessions",
	Long: `Delete sessions by id. The local id a session had before it was synced
also works. Deleting an unknown id is not an error.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.Close()

		for _, id := range args {
			if err := a.rec.Delete(cmd.Context(), id); err != nil {
				fatalf("deleting %s: %v", id, err)
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), id)
		}
	},
}

var deleteAllCmd = &cobra.Command{
	Use:     "delete-all",
	GroupID: "attendance",
	Short:   "Delete every session of the current owner",
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a := mustOpenApp(nil)
		defer a.Close()

		if !yes {
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete all sessions of %s, locally and remotely?", a.owner)).
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		n, err := a.rec.DeleteAll(cmd.Context())
		if err != nil {
			fatalf("deleting sessions: %v", err)
		}
		fmt.Printf("%s Deleted %d local sessions of %s\n", ui.RenderPass("✓"), n, a.owner)
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "attendance",
	Short:   "Show session and student totals",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.Close()

		ctx := cmd.Context()
		rep, err := a.rec.Hydrate(ctx, nil)
		if err != nil {
			fatalf("loading sessions: %v", err)
		}
		st := a.rec.Stats()

		db, err := a.store.Get(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		counts, err := db.CountByOwner(ctx, a.owner)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\n%s Attendance for %s\n", ui.RenderAccent("📊"), a.owner)
		fmt.Printf("   Sessions:        %d\n", st.TotalSessions)
		fmt.Printf("   Student records: %d\n", st.TotalStudents)
		fmt.Printf("   Local:           %d (%d unsynced)\n", counts.Total, counts.Unsynced)
		if rep.RemoteReachable {
			fmt.Printf("   Remote:          %d\n\n", rep.Remote)
		} else {
			fmt.Printf("   Remote:          %s\n\n", ui.RenderWarn("unreachable"))
		}
	},
}

func init() {
	saveCmd.Flags().String("roster", "", "roster CSV file (reg no, name)")
	saveCmd.Flags().String("details", "", "session details, e.g. \"Period 3\"")
	saveCmd.Flags().String("year", "", "academic year")
	saveCmd.Flags().String("semester-type", "", "semester type (odd/even)")
	saveCmd.Flags().String("semester", "", "semester")
	saveCmd.Flags().String("section", "", "section")
	saveCmd.Flags().String("subject-code", "", "subject code")
	saveCmd.Flags().String("subject-name", "", "subject name")
	saveCmd.Flags().StringSlice("present", nil, "registration numbers to mark present")
	saveCmd.Flags().StringSlice("absent", nil, "registration numbers to mark absent")
	saveCmd.Flags().Bool("all-present", false, "mark everyone present unless listed in --absent")
	saveCmd.Flags().BoolP("interactive", "i", false, "pick present students interactively")
	_ = saveCmd.MarkFlagRequired("roster")

	historyCmd.Flags().String("date", "", "only sessions of this day (YYYY-MM-DD, today, yesterday, ...)")
	historyCmd.Flags().Bool("refresh", false, "re-read local and remote state before listing")
	historyCmd.Flags().String("format", "table", "output format: table, json or yaml")

	showCmd.Flags().String("format", "table", "output format: table, json or yaml")

	deleteAllCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(saveCmd, historyCmd, showCmd, deleteCmd, deleteAllCmd, statsCmd)
}

