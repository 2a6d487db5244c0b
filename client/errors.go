package client

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned by Send when a message has no content and no
// attachment. The check happens before any network call.
var ErrEmptyMessage = errors.New("message requires content or an attachment")

// AuthExpiredError signals a 401-class response. The session token has
// already been cleared; callers must force re-authentication and must not
// retry the request.
type AuthExpiredError struct {
	Op string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s: authentication expired", e.Op)
}

// GatewayError wraps a transient network or server failure on a REST call.
// Read operations retry once internally before surfacing it; sends surface it
// immediately so the user can retry explicitly.
type GatewayError struct {
	Op     string
	Status int
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err is an authentication expiry.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}
