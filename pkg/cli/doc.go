/*
Package cli provides command-line helpers for the warden command.

Output Formatting:

Commands render results as aligned text, JSON or CSV. Text and CSV need
a Table; the package ships tables for lint results, evaluation reports,
case lists, SLA sweeps, policy dry runs and policy imports:

	format, err := cli.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, cli.CaseTable(list))

Progress Reporting:

Batch commands report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr, "vendors")
	progress.Start(int64(len(ids)))
	for _, batch := range batches {
		// evaluate the batch
		progress.Add(int64(len(batch)))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Errors:

ExitCode maps ConfigError to exit status 2 and any other error to 1.
*/
package cli
