package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/muloop/internal/store"
)

func newStatsCmd() *cobra.Command {
	var (
		limit  int
		totals bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query the archived scheduler statistics",
		Long: "Stats reads the SQLite statistics archive written by a running\n" +
			"daemon and prints recent emissions, or per-task totals with --totals.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, limit, totals)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of emissions to show")
	cmd.Flags().BoolVar(&totals, "totals", false, "Show per-task totals instead of emissions")
	return cmd
}

func runStats(cmd *cobra.Command, limit int, totals bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sq, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open stats archive: %w", err)
	}
	defer sq.Close()
	if err := sq.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate stats archive: %w", err)
	}

	if totals {
		return printTotals(cmd.Context(), sq)
	}
	return printEmissions(cmd.Context(), sq, limit)
}

func printEmissions(ctx context.Context, sq *store.SQLiteStore, limit int) error {
	emissions, err := sq.ListEmissions(ctx, limit)
	if err != nil {
		return err
	}
	if len(emissions) == 0 {
		fmt.Println("no archived emissions")
		return nil
	}

	for _, em := range emissions {
		fmt.Printf("%s  up %s  free %s  %d tasks\n",
			em.ReceivedAt.Local().Format(time.RFC3339),
			time.Duration(em.Uptime)*time.Second,
			humanize.Bytes(em.FreeMem),
			em.TaskCount)
		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tNAME\tCALLS\tCPU\tLATE")
		for _, ts := range em.Tasks {
			name := ts.Name
			if name == "" {
				name = "<null>"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n",
				ts.TaskID, name,
				humanize.Comma(int64(ts.CallCount)),
				time.Duration(ts.CPUTime)*time.Microsecond,
				time.Duration(ts.LateTime)*time.Microsecond)
		}
		tw.Flush()
	}
	return nil
}

func printTotals(ctx context.Context, sq *store.SQLiteStore) error {
	rows, err := sq.TaskTotals(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no archived emissions")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCALLS\tCPU\tLATE")
	for _, row := range rows {
		name := row.Name
		if name == "" {
			name = "<null>"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			row.TaskID, name,
			humanize.Comma(int64(row.CallCount)),
			time.Duration(row.CPUTime)*time.Microsecond,
			time.Duration(row.LateTime)*time.Microsecond)
	}
	return tw.Flush()
}
