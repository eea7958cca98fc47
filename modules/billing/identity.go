package billing

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/coachkit/pkg/billing"
)

// Identity headers set by the authenticating gateway in front of the service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderProfileID = "X-Profile-ID"
	HeaderCoachID   = "X-Coach-ID"
	HeaderUserEmail = "X-User-Email"
)

// HeaderIdentity reads the caller from gateway headers. A missing or malformed
// user id is ErrUnauthenticated; the coach id is optional.
func HeaderIdentity() IdentityFunc {
	return func(r *http.Request) (billing.Identity, error) {
		userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
		if err != nil || userID == uuid.Nil {
			return billing.Identity{}, ErrUnauthenticated
		}
		id := billing.Identity{UserID: userID, Email: r.Header.Get(HeaderUserEmail)}

		if v := r.Header.Get(HeaderProfileID); v != "" {
			if id.ProfileID, err = uuid.Parse(v); err != nil {
				return billing.Identity{}, fmt.Errorf("%w: bad %s", ErrUnauthenticated, HeaderProfileID)
			}
		}
		if v := r.Header.Get(HeaderCoachID); v != "" {
			if id.CoachID, err = uuid.Parse(v); err != nil {
				return billing.Identity{}, fmt.Errorf("%w: bad %s", ErrUnauthenticated, HeaderCoachID)
			}
		}
		return id, nil
	}
}
