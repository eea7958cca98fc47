// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a bound request value and returns a Response. Wrap
// binds the request, runs decorators and renders the result; failures go to an
// ErrorHandler, normally one built by NewErrorHandler, which maps domain
// errors to HTTP statuses through ErrorMapping values and writes a JSON
// envelope:
//
//	{"data": ...}
//	{"error": {"code": "not_found", "message": "...", "details": {...}}}
//
// Example:
//
//	type checkoutRequest struct {
//		Kind string `json:"kind"`
//	}
//
//	h := handler.Wrap(
//		func(ctx handler.Context, req checkoutRequest) handler.Response {
//			return handler.JSON(map[string]string{"kind": req.Kind})
//		},
//		handler.WithBinders[handler.Context, checkoutRequest](handler.BindJSON()),
//	)
package handler
