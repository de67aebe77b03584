package loader

import (
	"context"
	"errors"

	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/registry"
)

// Importer receives policies read from files.
type Importer interface {
	Import(ctx context.Context, in *model.Policy, actor string, autoApprove bool) (*registry.ImportResult, error)
}

// SyncOptions controls how loaded policies enter the registry.
type SyncOptions struct {
	// Actor is recorded as the author of imported changes.
	Actor string

	// AutoApprove activates imported policies without the approval workflow.
	AutoApprove bool
}

// SyncReport summarizes a directory sync.
type SyncReport struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Errors    []string `json:"errors,omitempty"`
}

// Sync loads every policy file under dir and imports the policies. Files
// and policies that fail are listed in the report and do not stop the sync.
// An error is returned only when the directory itself cannot be read.
func (l *Loader) Sync(ctx context.Context, dir string, imp Importer, opts SyncOptions) (*SyncReport, error) {
	if opts.Actor == "" {
		opts.Actor = "policy-loader"
	}

	policies, err := l.LoadDir(dir)
	report := &SyncReport{}
	if err != nil {
		var list *ErrorList
		if !errors.As(err, &list) {
			return nil, err
		}
		for _, e := range list.Errors {
			report.Errors = append(report.Errors, e.Error())
		}
	}

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := imp.Import(ctx, p, opts.Actor, opts.AutoApprove)
		if err != nil {
			l.logger.Warn("policy import failed", "policy_id", p.ID, "error", err)
			report.Errors = append(report.Errors, p.ID+": "+err.Error())
			continue
		}
		switch res.Outcome {
		case registry.ImportCreated:
			report.Created = append(report.Created, p.ID)
		case registry.ImportUpdated:
			report.Updated = append(report.Updated, p.ID)
		default:
			report.Unchanged = append(report.Unchanged, p.ID)
		}
	}

	l.logger.Info("policy sync complete",
		"dir", dir,
		"created", len(report.Created),
		"updated", len(report.Updated),
		"unchanged", len(report.Unchanged),
		"errors", len(report.Errors),
	)
	return report, nil
}
