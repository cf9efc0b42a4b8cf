package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/config"
	"github.com/yairfalse/wipeit/internal/history"
	"github.com/yairfalse/wipeit/internal/report"
	"github.com/yairfalse/wipeit/pkg/resource"
)

var (
	historyLimit      int
	historyAudit      bool
	historySince      time.Duration
	historyIncomplete string
	historyResource   string
	historyPrune      time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [revision]",
	Short: "Show past inventory and deletion runs",
	Long: `Show past runs recorded in the local history database, newest first.

With a revision argument the full run is printed as JSON. With --audit the
raw audit trail of destructive steps is replayed instead. --incomplete lists
the resources a deletion run started but never finished, and --resource
shows when a resource was first seen, last seen and deleted.`,
	Example: `  wipeit history
  wipeit history 12
  wipeit history --audit --since 24h
  wipeit history --incomplete 7f9c2b1e-...
  wipeit history --resource block-volume/vol-0abc
  wipeit history --prune 720h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyAudit, "audit", false, "Replay the audit trail")
	historyCmd.Flags().DurationVar(&historySince, "since", 7*24*time.Hour, "Audit entries newer than this")
	historyCmd.Flags().StringVar(&historyIncomplete, "incomplete", "", "List resources a deletion run left unfinished")
	historyCmd.Flags().StringVar(&historyResource, "resource", "", "Show the recorded state of <kind>/<id> or an ARN")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Remove audit files older than this")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	switch {
	case historyPrune > 0:
		removed, err := audit.Cleanup(cfg.Storage.AuditDir, historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Removed %d audit file(s)\n", removed)
		return nil
	case historyIncomplete != "":
		refs, err := audit.Incomplete(cfg.Storage.AuditDir, historyIncomplete)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Println(ref.String())
		}
		return nil
	case historyAudit:
		return replayAudit(cfg.Storage.AuditDir, time.Now().Add(-historySince))
	}

	store, err := history.Open(cfg.Storage.HistoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if historyResource != "" {
		ref, err := resource.ParseRef(historyResource)
		if err != nil {
			return err
		}
		state, ok := store.State(ref)
		if !ok {
			return fmt.Errorf("%s: not in history", ref)
		}
		return report.JSON(os.Stdout, state)
	}

	if len(args) == 1 {
		rev, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid revision %q: %w", args[0], err)
		}
		run, err := store.Get(rev)
		if err != nil {
			return err
		}
		return report.JSON(os.Stdout, run)
	}

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rev", "Type", "Account", "Region", "Started", "Resources", "Deleted", "Failed"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, run := range runs {
		total := 0
		for _, n := range run.Counts {
			total += n
		}
		if run.Type == history.RunDeletion {
			total = len(run.Results)
		}
		table.Append([]string{
			strconv.FormatInt(run.Revision, 10),
			string(run.Type),
			run.Scope.Account,
			run.Scope.Region,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(total),
			strconv.Itoa(run.Summary.Deleted),
			strconv.Itoa(run.Summary.Failed),
		})
	}
	table.Render()
	return nil
}

func replayAudit(dir string, since time.Time) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Run", "Type", "Resource", "Error"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetAutoWrapText(false)

	err := audit.Replay(dir, since, func(e *audit.Entry) error {
		ref := ""
		if e.Resource != "" {
			ref = resource.FormatRef(e.Kind, e.Resource)
		}
		table.Append([]string{
			e.Timestamp.Local().Format(time.RFC3339),
			e.RunID,
			string(e.Type),
			ref,
			e.Error,
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}
