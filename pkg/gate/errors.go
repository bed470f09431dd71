package gate

import (
	"errors"
	"fmt"

	"github.com/hubgate/hubgate/pkg/permissions"
)

// ErrUnauthenticated is returned when no valid session backs the request
var ErrUnauthenticated = errors.New("unauthenticated")

// ForbiddenError is returned when the caller is authenticated but the
// resolved level is below the required level. It carries the actual level
// and role so the response can tell the caller what they have versus what
// they need.
type ForbiddenError struct {
	Required permissions.Level
	Actual   permissions.Level
	Role     string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: requires %s, have %s (%s)", e.Required, e.Actual, e.Role)
}
