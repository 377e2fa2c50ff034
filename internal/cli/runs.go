package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/deskpilot/internal/bootstrap"
	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsShowCmd())
	cmd.AddCommand(newRunsViolationsCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenStore(home, cfg.Store)
}

func newRunsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tSUCCESS\tSTOP\tSTEPS\tACTIONS\tTASK")
			for _, r := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Success, r.StopReason, r.Steps, r.ActionCount, r.Task)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded RunResult as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			run, err := st.GetRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
	return cmd
}

func newRunsViolationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List actions denied by the sandbox, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			vs, err := st.ListViolations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RUN\tTIME\tTOOL\tRULE\tCONTENT")
			for _, v := range vs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					v.RunID, v.Record.Timestamp.Local().Format(time.DateTime), v.Record.Tool, v.Record.Outcome.Violation, v.Record.Outcome.Content)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum violations to list")
	return cmd
}
