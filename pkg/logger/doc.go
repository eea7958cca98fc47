// Package logger builds *slog.Logger values for coachkit services.
//
// New returns a logger whose handler is wrapped by LogHandlerDecorator, so any
// registered ContextExtractor (for example the request id extractor from
// pkg/requestid) adds its attribute to every record logged with a context.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "coachkit"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "payout account reconciled",
//	    logger.CoachID(coach.ID),
//	    logger.AccountID(coach.PayoutAccountID),
//	)
//
// Attribute helpers in attr.go keep key names consistent across packages.
// Error, CoachID and UserID return an empty attribute for nil input, which
// slog drops.
package logger
