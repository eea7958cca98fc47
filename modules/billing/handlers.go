package billing

import (
	"github.com/dmitrymomot/coachkit/handler"
	"github.com/dmitrymomot/coachkit/pkg/billing"
)

type handlers struct {
	svc      Service
	identity IdentityFunc
}

type payoutStatusResponse struct {
	Connected bool `json:"connected"`
	billing.AccountStatus
}

type checkoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

func (h *handlers) payoutStatus(ctx handler.Context, _ struct{}) handler.Response {
	id, err := h.identity(ctx.Request())
	if err != nil {
		return errorResponse{err}
	}
	status, err := h.svc.PayoutAccountStatus(ctx, id)
	if err != nil {
		return errorResponse{err}
	}
	return handler.JSON(payoutStatusResponse{Connected: status.Connected(), AccountStatus: status})
}

func (h *handlers) startOnboarding(ctx handler.Context, _ struct{}) handler.Response {
	id, err := h.identity(ctx.Request())
	if err != nil {
		return errorResponse{err}
	}
	link, err := h.svc.StartPayoutOnboarding(ctx, id)
	if err != nil {
		return errorResponse{err}
	}
	return handler.JSON(link)
}

func (h *handlers) checkout(ctx handler.Context, req billing.CheckoutRequest) handler.Response {
	id, err := h.identity(ctx.Request())
	if err != nil {
		return errorResponse{err}
	}
	session, err := h.svc.CreateCheckout(ctx, id, req)
	if err != nil {
		return errorResponse{err}
	}
	return handler.JSON(checkoutResponse{URL: session.URL, SessionID: session.ID})
}

// webhook acknowledges anything the service accepted, including stale and
// ignored events. Only bad signatures and transient failures are non-2xx so
// the provider redelivers.
func (h *handlers) webhook(ctx handler.Context, _ struct{}) handler.Response {
	r := ctx.Request()
	payload, err := handler.RawBody(r, maxWebhookBody)
	if err != nil {
		return errorResponse{err}
	}
	if err := h.svc.HandleWebhook(ctx, payload, r.Header.Get(SignatureHeader)); err != nil {
		return errorResponse{err}
	}
	return handler.JSON(webhookResponse{Received: true})
}
