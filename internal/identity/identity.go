// Package identity resolves the verified identity attached to a live connection.
package identity

import (
	"context"
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Identity is who a connection acts as, as asserted by the identity service.
type Identity struct {
	ID          string
	DisplayName string
	Role        Role
}

// Resolver verifies a bearer credential and returns the identity it carries.
// Failures are reported as an InvalidCredential error.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity carried by ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
