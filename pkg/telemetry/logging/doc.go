// Package logging builds Warden's structured logger.
//
// The logger is a plain *slog.Logger; this package only chooses the handler
// from configuration and installs a redacting ReplaceAttr. Attributes whose
// key names a secret (password, token, authorization, webhook headers) are
// masked, and email addresses in string values are obscured so alert
// recipients do not end up in log storage.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Request-scoped loggers travel in the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	logging.FromContext(ctx).Info("case escalated", "case", c.CaseNumber)
package logging
