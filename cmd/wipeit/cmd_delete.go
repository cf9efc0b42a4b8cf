package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/wipeit/internal/confirm"
	"github.com/yairfalse/wipeit/internal/filter"
	"github.com/yairfalse/wipeit/internal/report"
	"github.com/yairfalse/wipeit/pkg/resource"
)

var (
	deleteResources   []string
	deleteFromDir     string
	deleteKinds       []string
	deleteTags        []string
	deleteExcludeTags []string
	deleteYes         bool
	deleteVerify      bool
	deleteFormat      string
)

var deleteCmd = &cobra.Command{
	Use:   "delete [kind/id | arn]...",
	Short: "Delete selected resources after an itemized confirmation",
	Long: `Delete the selected resources.

Resources are named as <kind>/<id> or by ARN, or loaded from the per-kind
id lists written by 'wipeit inventory --out'. With --kind, --tag or
--exclude-tag, a fresh inventory is taken and every matching resource is
added to the selection. Every (kind, id) pair is
listed and must be confirmed before anything is deleted. Each resource
gets exactly one result; a failure never stops the others, and nothing
is retried.`,
	Example: `  wipeit delete block-volume/vol-0abc secret/arn:aws:secretsmanager:...
  wipeit delete arn:aws:s3:::old-logs
  wipeit delete --from-dir ./report --verify
  wipeit delete --kind block-volume --tag env=scratch --exclude-tag keep=true
  wipeit delete --from-dir ./report --yes --format json`,
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().StringArrayVar(&deleteResources, "resource", nil, "Resource to delete as <kind>/<id> or ARN (repeatable)")
	deleteCmd.Flags().StringVar(&deleteFromDir, "from-dir", "", "Load <kind>.json id lists from a directory")
	deleteCmd.Flags().StringSliceVar(&deleteKinds, "kind", nil, "Select every discovered resource of these kinds")
	deleteCmd.Flags().StringArrayVar(&deleteTags, "tag", nil, "Select discovered resources carrying tag key=value (repeatable, all must match)")
	deleteCmd.Flags().StringArrayVar(&deleteExcludeTags, "exclude-tag", nil, "Leave out discovered resources carrying tag key=value (repeatable)")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the interactive prompt")
	deleteCmd.Flags().BoolVar(&deleteVerify, "verify", false, "Re-run discovery afterwards and report resources still present")
	deleteCmd.Flags().StringVarP(&deleteFormat, "format", "f", "table", "Output format: table, json")
}

// buildSelection merges positional references, --resource flags and id
// lists from a directory. References of unsupported kinds stay in the
// selection and are reported as failed deletions.
func buildSelection(args, flagRefs []string, dir string) (resource.Selection, error) {
	sel := resource.ParseRefs(append(append([]string(nil), args...), flagRefs...))
	if dir != "" {
		fromDir, err := report.LoadSelectionDir(dir)
		if err != nil {
			return nil, err
		}
		mergeSelection(sel, fromDir)
	}
	return sel, nil
}

func mergeSelection(dst, src resource.Selection) {
	for k, ids := range src {
		dst[k] = append(dst[k], ids...)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sel, err := buildSelection(args, deleteResources, deleteFromDir)
	if err != nil {
		return err
	}
	flt, err := filter.Parse(deleteKinds, deleteTags, deleteExcludeTags)
	if err != nil {
		return err
	}
	if sel.Count() == 0 && flt.IsEmpty() {
		return fmt.Errorf("nothing selected: pass resources as arguments, --resource, --from-dir or --kind/--tag")
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	ctx, span := a.telemetry.StartSpan(ctx, "wipeit.delete")
	defer span.End()

	if !flt.IsEmpty() {
		inv, err := a.runner.RunInventory(ctx, profile, region)
		if err != nil {
			return err
		}
		mergeSelection(sel, flt.Select(inv))
		if sel.Count() == 0 {
			fmt.Fprintln(os.Stderr, "No resources matched the filters")
			return nil
		}
	}

	plan, err := a.runner.Plan(ctx, profile, region, sel)
	if err != nil {
		return err
	}

	var confirmer confirm.Confirmer = confirm.Terminal{In: os.Stdin, Out: os.Stderr}
	if deleteYes {
		fmt.Fprint(os.Stderr, plan.Prompt.Text)
		confirmer = confirm.Preapproved{}
	}

	approval, err := confirm.Ask(ctx, confirmer, plan.Prompt)
	if err != nil {
		return err
	}
	if !approval.Approved() {
		fmt.Fprintln(os.Stderr, "Deletion cancelled")
	}

	results := a.runner.Execute(ctx, plan, approval)

	switch deleteFormat {
	case "json":
		if err := report.JSON(os.Stdout, results); err != nil {
			return err
		}
	default:
		if len(results) > 0 {
			report.ResultsTable(os.Stdout, results)
		}
	}

	if deleteVerify && len(results) > 0 {
		lingering := a.runner.Verify(ctx, plan, results)
		if len(lingering) > 0 {
			return fmt.Errorf("%d resource(s) still listed after deletion", len(lingering))
		}
		fmt.Fprintln(os.Stderr, "Verified: no deleted resource is still listed")
	}

	if s := resource.Summarize(results); s.Failed > 0 {
		return fmt.Errorf("%d of %d deletion(s) failed", s.Failed, len(results))
	}
	return nil
}
