package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/coachkit/pkg/logger"
	"github.com/dmitrymomot/coachkit/pkg/validator"
)

// NewErrorHandler classifies err with mappings and renders a JSON error.
// Client errors carry the error text; server errors only the status text and
// are logged.
func NewErrorHandler[C Context](log *slog.Logger, mappings ...ErrorMapping) ErrorHandler[C] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx C, err error) {
		status, _ := Classify(err, mappings...)
		detail := &ErrorDetail{Code: status.Key, Message: http.StatusText(status.Code)}

		if status.Code < http.StatusInternalServerError {
			detail.Message = flatten(err)
			if verrs := validator.Extract(err); len(verrs) > 0 {
				detail.Details = verrs.Fields()
			}
			log.DebugContext(ctx, "request rejected",
				slog.Int("status", status.Code),
				logger.Error(err),
			)
		} else {
			log.ErrorContext(ctx, "request failed",
				slog.Int("status", status.Code),
				slog.String("path", ctx.Request().URL.Path),
				logger.Error(err),
			)
		}

		if rerr := JSONErrorDetail(status.Code, detail).Render(ctx.ResponseWriter(), ctx.Request()); rerr != nil {
			log.ErrorContext(ctx, "failed to render error", logger.Error(rerr))
		}
	}
}

// flatten joins the lines errors.Join produces.
func flatten(err error) string {
	return strings.Join(strings.Split(err.Error(), "\n"), ": ")
}
