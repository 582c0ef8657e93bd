package users

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var userCtxKey = &contextKey{"user"}

const userLocalsKey = "users.current_user"

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// CurrentUser returns the user resolved by SessionMiddleware.
func CurrentUser(c *fiber.Ctx) (*User, bool) {
	raw, ok := c.Locals(userLocalsKey).(*User)
	return raw, ok && raw != nil
}

func setCurrentUser(c *fiber.Ctx, user *User) {
	c.Locals(userLocalsKey, user)
	c.SetUserContext(WithContext(c.UserContext(), user))
}
