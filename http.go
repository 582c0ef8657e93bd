package users

import (
	"crypto/sha256"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/gorilla/securecookie"
)

const (
	// DefaultSessionCookie carries the provider access token.
	DefaultSessionCookie = "access_token"
	// DefaultStateCookie carries the signed authorization state.
	DefaultStateCookie = "oauth_state"

	defaultSessionMaxAge = time.Hour
	defaultStateMaxAge   = 10 * time.Minute
)

// CookieConfig controls the session and state cookies.
type CookieConfig struct {
	SessionName string
	StateName   string
	MaxAge      time.Duration
	Secure      bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.SessionName == "" {
		c.SessionName = DefaultSessionCookie
	}
	if c.StateName == "" {
		c.StateName = DefaultStateCookie
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultSessionMaxAge
	}
	return c
}

func (c CookieConfig) setSession(ctx *fiber.Ctx, token string) {
	ctx.Cookie(&fiber.Cookie{
		Name:     c.SessionName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		Expires:  time.Now().Add(c.MaxAge),
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (c CookieConfig) setState(ctx *fiber.Ctx, value string) {
	ctx.Cookie(&fiber.Cookie{
		Name:     c.StateName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(defaultStateMaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (c CookieConfig) clear(ctx *fiber.Ctx, name string) {
	ctx.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// StateCodec signs and encrypts the authorization state kept in a cookie.
type StateCodec struct {
	codec *securecookie.SecureCookie
	name  string
}

// NewStateCodec derives the signing and encryption keys from secret. An
// empty secret gets random keys, valid for the process lifetime only.
func NewStateCodec(secret string) *StateCodec {
	var hashKey, blockKey []byte
	if strings.TrimSpace(secret) == "" {
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
	} else {
		hashKey = []byte(secret)
		sum := sha256.Sum256([]byte("block:" + secret))
		blockKey = sum[:]
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(defaultStateMaxAge.Seconds()))

	return &StateCodec{codec: codec, name: DefaultStateCookie}
}

// Encode seals state for the cookie.
func (s *StateCodec) Encode(state string) (string, error) {
	return s.codec.Encode(s.name, state)
}

// Decode opens a sealed state, failing when tampered or expired.
func (s *StateCodec) Decode(value string) (string, error) {
	var state string
	if err := s.codec.Decode(s.name, value, &state); err != nil {
		return "", err
	}
	return state, nil
}

// SessionMiddleware resolves the session cookie into the current user.
// Failures are returned to the fiber ErrorHandler.
func SessionMiddleware(resolver SessionResolver, cookieName string) fiber.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(c *fiber.Ctx) error {
		user, err := resolver.ResolveSession(c.UserContext(), c.Cookies(cookieName))
		if err != nil {
			return err
		}
		setCurrentUser(c, user)
		return c.Next()
	}
}

// NewErrorHandler renders every error as {"detail": message}. 401s carry
// a Bearer challenge and validation failures list the offending fields.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if stderrors.As(err, &fiberErr) {
			if fiberErr.Code == fiber.StatusUnauthorized {
				c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
			}
			return c.Status(fiberErr.Code).JSON(fiber.Map{"detail": fiberErr.Message})
		}

		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
				WithCode(errors.CodeInternal)
		}

		status := statusForError(richErr)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		} else {
			logger.Debug("request rejected",
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"text_code", richErr.TextCode,
				"error", err,
			)
		}

		body := fiber.Map{"detail": richErr.Message}
		switch {
		case status == http.StatusUnauthorized:
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		case richErr.Category == errors.CategoryValidation:
			if fields, ok := richErr.Metadata["fields"]; ok {
				body["errors"] = fields
			}
		}

		return c.Status(status).JSON(body)
	}
}

func statusForError(richErr *errors.Error) int {
	switch richErr.Category {
	case errors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case errors.CategoryAuth:
		if richErr.Code == http.StatusBadRequest {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryBadInput:
		return http.StatusBadRequest
	}

	if richErr.Code >= http.StatusBadRequest && richErr.Code < 600 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func newBadRequest(detail string) *errors.Error {
	return errors.New(detail, errors.CategoryBadInput).
		WithCode(errors.CodeBadRequest)
}
