// Package source holds what is shared by mail source implementations.
package source

import (
	"errors"
	"fmt"
)

// AuthError indicates that authentication has failed or expired for an
// account. Source clients return it when the server rejects LOGIN.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
