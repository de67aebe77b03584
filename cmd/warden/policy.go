package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/loader"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/validator"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with policy files",
	Long: `Validate, dry-run and import compliance policy files.

Policy files are YAML or JSON and may hold several policies as separate
YAML documents.`,
}

var lintFlags struct {
	file   string
	dir    string
	format string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate policy files",
	Long: `Validate policy files against the policy schema and the field taxonomy.

Every file is checked for:
  - YAML/JSON syntax and the policy schema
  - Known fields, operators and value types in conditions
  - Action types and their required configuration
  - Policy IDs defined more than once

Examples:
  # Lint a single file
  warden policy lint --file policies/low-score.yaml

  # Lint a directory, recursively
  warden policy lint --dir policies/

  # CSV output for CI
  warden policy lint --dir policies/ --format csv`,
	RunE: lintPolicies,
}

var testFlags struct {
	file     string
	policyID string
	facts    string
	format   string
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Dry-run a policy file against sample facts",
	Long: `Evaluate one policy from a file against sample vendor facts.

Every condition is evaluated and reported, so authors see which ones pass.
Nothing is stored and no action runs. The facts file is a JSON or YAML
object; nested objects become dotted field paths.

Examples:
  warden policy test --file policies/low-score.yaml --facts vendor-1.json
  warden policy test --file policies/all.yaml --id sanctions --facts vendor-1.yaml`,
	RunE: testPolicy,
}

var importFlags struct {
	dir         string
	autoApprove bool
	format      string
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import policy files into the store",
	Long: `Import every policy file under a directory into the configured store.

New policies are created as drafts and changed policies get a new version;
unchanged policies are left alone. With --auto-approve, imported policies are
approved and activated without review, which is meant for bootstrapping only.

Examples:
  warden policy import --dir policies/
  warden policy import --config prod.yaml --dir policies/ --format json`,
	RunE: importPolicies,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(lintCmd, testCmd, importCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "policy file to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of policy files")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json, csv")

	testCmd.Flags().StringVarP(&testFlags.file, "file", "f", "", "policy file")
	testCmd.Flags().StringVar(&testFlags.policyID, "id", "", "policy ID, required when the file holds several")
	testCmd.Flags().StringVar(&testFlags.facts, "facts", "", "sample facts file (JSON or YAML)")
	testCmd.Flags().StringVar(&testFlags.format, "format", "text", "output format: text, json, csv")

	importCmd.Flags().StringVarP(&importFlags.dir, "dir", "d", "", "policy directory (default: policy.dir)")
	importCmd.Flags().BoolVar(&importFlags.autoApprove, "auto-approve", false, "activate imported policies without review")
	importCmd.Flags().StringVar(&importFlags.format, "format", "text", "output format: text, json, csv")
}

func lintPolicies(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(lintFlags.format)
	if err != nil {
		return err
	}
	if lintFlags.file == "" && lintFlags.dir == "" {
		return cli.NewConfigError("", "either --file or --dir must be specified")
	}

	l, err := loader.New(loader.DefaultConfig(), quietLogger())
	if err != nil {
		return err
	}

	var files []string
	if lintFlags.file != "" {
		files = append(files, lintFlags.file)
	}
	if lintFlags.dir != "" {
		found, err := l.Files(lintFlags.dir)
		if err != nil {
			return cli.NewCommandError("policy lint", err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return cli.NewCommandError("policy lint", errors.New("no policy files found"))
	}

	report := lintFiles(l, files)
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if n := report.Invalid(); n > 0 {
		return cli.NewCommandError("policy lint", fmt.Errorf("%d of %d files have problems", n, len(report.Files)))
	}
	return nil
}

// lintFiles checks every file. A policy ID seen in an earlier file is a
// problem in the later one.
func lintFiles(l *loader.Loader, files []string) cli.LintReport {
	v := validator.New(validator.DefaultLimits())
	seen := make(map[string]string)

	report := cli.LintReport{Files: make([]cli.LintFile, 0, len(files))}
	for _, path := range files {
		entry := cli.LintFile{File: path}

		policies, err := l.LoadFile(path)
		if err != nil {
			entry.Problems = append(entry.Problems, err.Error())
		} else if len(policies) == 0 {
			entry.Problems = append(entry.Problems, "no policies in file")
		}

		for _, p := range policies {
			entry.Policies = append(entry.Policies, p.ID)
			if first, dup := seen[p.ID]; dup {
				entry.Problems = append(entry.Problems, fmt.Sprintf("%s: already defined in %s", p.ID, first))
				continue
			}
			seen[p.ID] = path
			entry.Problems = append(entry.Problems, policyProblems(v, p)...)
		}
		report.Files = append(report.Files, entry)
	}
	return report
}

func policyProblems(v *validator.Validator, p *model.Policy) []string {
	err := v.Normalize(p)
	if err == nil {
		return nil
	}
	var verr *faults.ValidationError
	if !errors.As(err, &verr) {
		return []string{p.ID + ": " + err.Error()}
	}
	problems := make([]string, len(verr.Problems))
	for i, problem := range verr.Problems {
		problems[i] = p.ID + ": " + problem
	}
	return problems
}

func testPolicy(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(testFlags.format)
	if err != nil {
		return err
	}
	if testFlags.file == "" || testFlags.facts == "" {
		return cli.NewConfigError("", "--file and --facts are required")
	}

	l, err := loader.New(loader.DefaultConfig(), quietLogger())
	if err != nil {
		return err
	}
	policies, err := l.LoadFile(testFlags.file)
	if err != nil {
		return cli.NewCommandError("policy test", err)
	}
	p, err := selectPolicy(policies, testFlags.policyID)
	if err != nil {
		return cli.NewConfigError("id", err.Error())
	}

	sample, err := readFacts(testFlags.facts)
	if err != nil {
		return cli.NewCommandError("policy test", err)
	}

	result, err := explainPolicy(p, sample, time.Now())
	if err != nil {
		return cli.NewCommandError("policy test", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintf(out, "Policy %s: matched=%t evaluable=%t\n\n", p.ID, result.Matched, result.Evaluable)
	}
	return cli.NewFormatter(format).FormatTo(out, cli.TestTable{TestResult: result})
}

func selectPolicy(policies []*model.Policy, id string) (*model.Policy, error) {
	if id == "" {
		if len(policies) != 1 {
			return nil, fmt.Errorf("file holds %d policies, choose one with --id", len(policies))
		}
		return policies[0], nil
	}
	for _, p := range policies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("policy %q is not in the file", id)
}

// readFacts decodes a JSON or YAML object of sample facts.
func readFacts(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse facts file %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("facts file %s is empty", path)
	}
	return raw, nil
}

// explainPolicy validates p and evaluates every condition against sample.
func explainPolicy(p *model.Policy, sample map[string]interface{}, now time.Time) (*engine.TestResult, error) {
	candidate := p.Clone()
	if err := validator.New(validator.DefaultLimits()).Normalize(candidate); err != nil {
		return nil, err
	}
	fs, err := facts.FromRaw(sample)
	if err != nil {
		return nil, faults.NewValidationError("sample facts", p.ID, err.Error())
	}
	result := engine.NewMatcher(quietLogger(), nil).Explain(candidate, fs, now)
	result.PolicyID = candidate.ID
	return result, nil
}

func importPolicies(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(importFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if importFlags.dir != "" {
		cfg.Policy.Dir = importFlags.dir
	}
	if cmd.Flags().Changed("auto-approve") {
		cfg.Policy.AutoApproveFiles = importFlags.autoApprove
	}
	if cfg.Policy.Dir == "" {
		return cli.NewConfigError("policy.dir", "no policy directory: set --dir or policy.dir")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	return runImport(context.Background(), cfg, logger, cmd.OutOrStdout(), format)
}

func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, format cli.OutputFormat) error {
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return cli.NewCommandError("policy import", err)
	}
	defer a.Close()

	l, err := loader.New(loader.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	report, err := a.syncPolicies(ctx, l)
	if err != nil {
		return cli.NewCommandError("policy import", err)
	}
	if err := cli.NewFormatter(format).FormatTo(out, cli.SyncTable{SyncReport: report}); err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return cli.NewCommandError("policy import", fmt.Errorf("%d policies or files failed to import", len(report.Errors)))
	}
	return nil
}

// quietLogger discards library logs for offline commands unless --verbose.
func quietLogger() *slog.Logger {
	if verbose {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
