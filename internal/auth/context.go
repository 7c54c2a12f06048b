package auth

import "context"

// User is the authenticated caller of a request.
type User struct {
	ID    string
	Email string
	Role  string
}

func (u User) IsAdmin() bool { return u.Role == "ADMIN" }

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the caller set by Middleware.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}
