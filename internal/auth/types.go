package auth

import "errors"

// Role is the permission level carried by a token.
type Role string

// Roles, lowest first.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}

// CanWrite reports whether r may change register values.
func (r Role) CanWrite() bool {
	return r == RoleOperator
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient role")
)
