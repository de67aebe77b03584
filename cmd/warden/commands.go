package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/service"
)

// withApp loads configuration, builds the components and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(command string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return cli.NewCommandError(command, err)
	}
	defer a.Close()
	return fn(ctx, a)
}

var evaluateFlags struct {
	all       bool
	execute   bool
	batchSize int
	format    string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [vendor-id...]",
	Short: "Evaluate vendors against the active policies",
	Long: `Evaluate vendors against the active policies and report the matches.

By default this is a dry run. With --execute, the actions of matched policies
run exactly as they would for a new signal: cases are opened, alerts and
webhooks are sent and vendor statuses change.

Examples:
  # Dry-run two vendors
  warden evaluate vendor-1 vendor-2

  # Re-evaluate every vendor with recorded events and run the actions
  warden evaluate --all --execute

  # JSON output, including the condition traces
  warden evaluate vendor-1 --format json`,
	RunE: evaluateVendors,
}

var sweepFlags struct {
	format string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one SLA sweep",
	Long: `Escalate every case past its SLA deadline and warn about cases close to it.

This is the sweep the scheduler runs on sla.schedule, run once on demand.`,
	RunE: runSweep,
}

var casesFlags struct {
	vendorID string
	statuses []string
	severity string
	assignee string
	overdue  bool
	atRisk   bool
	limit    int
	format   string
}

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Inspect compliance cases",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases",
	Long: `List cases, newest first.

Examples:
  warden cases list --vendor vendor-1
  warden cases list --status open,in_progress --severity high
  warden cases list --overdue --format csv`,
	RunE: listCases,
}

func init() {
	rootCmd.AddCommand(evaluateCmd, sweepCmd, casesCmd)
	casesCmd.AddCommand(casesListCmd)

	evaluateCmd.Flags().BoolVar(&evaluateFlags.all, "all", false, "evaluate every vendor with recorded events")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.execute, "execute", false, "run the actions of matched policies")
	evaluateCmd.Flags().IntVar(&evaluateFlags.batchSize, "batch-size", 100, "vendors per batch with --all")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json, csv")

	sweepCmd.Flags().StringVar(&sweepFlags.format, "format", "text", "output format: text, json, csv")

	casesListCmd.Flags().StringVar(&casesFlags.vendorID, "vendor", "", "only cases of this vendor")
	casesListCmd.Flags().StringSliceVar(&casesFlags.statuses, "status", nil, "only cases in these statuses")
	casesListCmd.Flags().StringVar(&casesFlags.severity, "severity", "", "only cases of this severity")
	casesListCmd.Flags().StringVar(&casesFlags.assignee, "assignee", "", "only cases assigned to this user")
	casesListCmd.Flags().BoolVar(&casesFlags.overdue, "overdue", false, "only unresolved cases past their deadline")
	casesListCmd.Flags().BoolVar(&casesFlags.atRisk, "at-risk", false, "only unresolved cases close to their deadline")
	casesListCmd.Flags().IntVar(&casesFlags.limit, "limit", 100, "maximum cases to list")
	casesListCmd.Flags().StringVar(&casesFlags.format, "format", "text", "output format: text, json, csv")
}

func evaluateVendors(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evaluateFlags.format)
	if err != nil {
		return err
	}
	if evaluateFlags.all == (len(args) > 0) {
		return cli.NewConfigError("", "pass either vendor IDs or --all")
	}
	if evaluateFlags.batchSize <= 0 {
		return cli.NewConfigError("batch-size", "must be positive")
	}

	return withApp("evaluate", func(ctx context.Context, a *app) error {
		ids := args
		var progress cli.ProgressReporter
		if evaluateFlags.all {
			all, err := a.facts.Vendors(ctx)
			if err != nil {
				return cli.NewCommandError("evaluate", err)
			}
			ids = all
			progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "vendors")
		}

		reports, err := evaluateInBatches(ctx, a.service, ids, evaluateFlags.batchSize,
			service.EvaluateOptions{Execute: evaluateFlags.execute}, progress)
		if err != nil {
			return cli.NewCommandError("evaluate", err)
		}
		return renderEvaluations(cmd.OutOrStdout(), format, reports)
	})
}

// evaluateInBatches evaluates ids in sorted batches so progress can be
// reported between them. Each batch evaluates against its own snapshot.
func evaluateInBatches(ctx context.Context, svc *service.Service, ids []string, batchSize int, opts service.EvaluateOptions, progress cli.ProgressReporter) ([]*service.EvaluationReport, error) {
	ids = append([]string(nil), ids...)
	sort.Strings(ids)

	if progress != nil {
		progress.Start(int64(len(ids)))
		defer progress.Finish()
	}

	reports := make([]*service.EvaluationReport, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := svc.EvaluateVendors(ctx, ids[start:end], opts)
		if err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return nil, err
		}
		reports = append(reports, batch...)
		if progress != nil {
			progress.Add(int64(end - start))
		}
	}
	return reports, nil
}

func renderEvaluations(out io.Writer, format cli.OutputFormat, reports []*service.EvaluationReport) error {
	var data interface{} = cli.EvaluationTable(reports)
	if format == cli.FormatJSON {
		data = map[string]interface{}{"reports": reports}
	}
	if err := cli.NewFormatter(format).FormatTo(out, data); err != nil {
		return err
	}

	var failed []string
	for _, r := range reports {
		if r.Error != "" {
			failed = append(failed, r.VendorID)
		}
	}
	if len(failed) > 0 {
		return cli.NewCommandError("evaluate", fmt.Errorf("evaluation failed for %s", strings.Join(failed, ", ")))
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(sweepFlags.format)
	if err != nil {
		return err
	}
	return withApp("sweep", func(ctx context.Context, a *app) error {
		return sweepOnce(ctx, a.service, cmd.OutOrStdout(), format, a.logger)
	})
}

func sweepOnce(ctx context.Context, svc *service.Service, out io.Writer, format cli.OutputFormat, logger *slog.Logger) error {
	result, err := svc.RunAutoEscalate(ctx)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	if err := cli.NewFormatter(format).FormatTo(out, cli.SweepTable{SweepResult: result}); err != nil {
		return err
	}
	if result.Failed > 0 {
		for _, e := range result.Errors {
			logger.Error("sweep failure", "error", e)
		}
		return cli.NewCommandError("sweep", errors.Join(result.Errors...))
	}
	return nil
}

func listCases(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(casesFlags.format)
	if err != nil {
		return err
	}
	if casesFlags.overdue && casesFlags.atRisk {
		return cli.NewConfigError("", "--overdue and --at-risk are exclusive")
	}
	f, err := caseFilter()
	if err != nil {
		return err
	}

	return withApp("cases list", func(ctx context.Context, a *app) error {
		var (
			list []*cases.Case
			err  error
		)
		switch {
		case casesFlags.overdue:
			list, err = a.service.GetOverdueCases(ctx)
		case casesFlags.atRisk:
			list, err = a.service.GetCasesAtRisk(ctx)
		default:
			list, err = a.service.ListCases(ctx, f)
		}
		if err != nil {
			return cli.NewCommandError("cases list", err)
		}

		var data interface{} = cli.CaseTable(list)
		if format == cli.FormatJSON {
			data = map[string]interface{}{"cases": list}
		}
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
	})
}

func caseFilter() (cases.Filter, error) {
	f := cases.Filter{
		VendorID:   casesFlags.vendorID,
		Severity:   model.Severity(casesFlags.severity),
		AssignedTo: casesFlags.assignee,
		Limit:      casesFlags.limit,
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return f, cli.NewConfigError("severity", fmt.Sprintf("unknown severity %q", casesFlags.severity))
	}
	for _, s := range casesFlags.statuses {
		st := cases.Status(strings.TrimSpace(s))
		if !st.IsValid() {
			return f, cli.NewConfigError("status", fmt.Sprintf("unknown status %q", s))
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}
