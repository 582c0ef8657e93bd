package users

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Client facing details for login flow failures.
const (
	DetailCodeMissing   = "Authorization code missing"
	DetailStateInvalid  = "Invalid authorization state"
	DetailTokensMissing = "ID or Access Token missing"
)

// AuthController drives the hosted UI login, callback and logout.
type AuthController struct {
	Provider   IdentityProvider
	Reconciler UserReconciler
	State      *StateCodec
	Cookies    CookieConfig
	HomeURL    string
	Logger     Logger
	newState   func() string
}

// AuthControllerOption configures an AuthController
type AuthControllerOption func(*AuthController) *AuthController

// WithAuthCookies sets the cookie settings
func WithAuthCookies(cfg CookieConfig) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Cookies = cfg.withDefaults()
		return a
	}
}

// WithHomeURL sets where users land after login and logout
func WithHomeURL(url string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if url != "" {
			a.HomeURL = url
		}
		return a
	}
}

// WithAuthLogger sets the controller logger
func WithAuthLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Logger = normalizeLogger(logger)
		return a
	}
}

// WithStateGenerator overrides how authorization state values are built
func WithStateGenerator(fn func() string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if fn != nil {
			a.newState = fn
		}
		return a
	}
}

// NewAuthController returns a controller for provider
func NewAuthController(provider IdentityProvider, reconciler UserReconciler, state *StateCodec, opts ...AuthControllerOption) *AuthController {
	a := &AuthController{
		Provider:   provider,
		Reconciler: reconciler,
		State:      state,
		Cookies:    CookieConfig{Secure: true}.withDefaults(),
		HomeURL:    "/",
		Logger:     defLogger(),
		newState:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			a = opt(a)
		}
	}
	return a
}

// Login redirects to the hosted UI with a fresh state bound to a signed cookie.
func (a *AuthController) Login(c *fiber.Ctx) error {
	state := a.newState()

	sealed, err := a.State.Encode(state)
	if err != nil {
		return err
	}
	a.Cookies.setState(c, sealed)

	return c.Redirect(a.Provider.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
}

// Callback completes the code flow, reconciles the local user and starts
// the cookie session.
func (a *AuthController) Callback(c *fiber.Ctx) error {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		return newBadRequest(DetailCodeMissing)
	}

	sealed := c.Cookies(a.Cookies.StateName)
	a.Cookies.clear(c, a.Cookies.StateName)

	expected, err := a.State.Decode(sealed)
	if err != nil || expected == "" || expected != c.Query("state") {
		a.Logger.Warn("authorization state rejected", "error", err)
		return newBadRequest(DetailStateInvalid)
	}

	ctx := c.UserContext()

	tokens, err := a.Provider.Exchange(ctx, code)
	if err != nil {
		a.Logger.Error("authorization code exchange failed", "error", err)
		return err
	}

	if tokens == nil || tokens.IDToken == "" || tokens.AccessToken == "" {
		return newBadRequest(DetailTokensMissing)
	}

	claims, err := a.Provider.VerifyIDToken(ctx, tokens.IDToken, tokens.AccessToken)
	if err != nil {
		if IsKeyFetchError(err) {
			return err
		}
		a.Logger.Warn("id token rejected", "reason", TokenInvalidReason(err), "error", err)
		return NewUnauthenticated(DetailTokenInvalid, err)
	}

	user, err := a.Reconciler.GetOrCreate(ctx, claims)
	if err != nil {
		return err
	}

	a.Logger.Info("user logged in", "user_id", user.ID, "cognito_id", user.ExternalID)

	a.Cookies.setSession(c, tokens.AccessToken)
	return c.Redirect(a.HomeURL, fiber.StatusTemporaryRedirect)
}

// Logout clears the session cookie and ends the hosted UI session.
func (a *AuthController) Logout(c *fiber.Ctx) error {
	a.Cookies.clear(c, a.Cookies.SessionName)
	return c.Redirect(a.Provider.LogoutURL(), fiber.StatusTemporaryRedirect)
}

// UsersController exposes the user store.
type UsersController struct {
	Users  Users
	Logger Logger
}

// NewUsersController returns a controller over users
func NewUsersController(users Users, logger Logger) *UsersController {
	return &UsersController{
		Users:  users,
		Logger: normalizeLogger(logger),
	}
}

// Create registers a user.
func (u *UsersController) Create(c *fiber.Ctx) error {
	payload := new(CreateUserPayload)
	if err := c.BodyParser(payload); err != nil {
		return NewValidationError(err)
	}

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx := c.UserContext()

	if _, err := u.Users.GetByEmail(ctx, payload.Email); err == nil {
		return ErrEmailRegistered
	} else if !IsUserNotFound(err) {
		return err
	}

	user, err := u.Users.Create(ctx, payload.ToUser())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(user.ToResponse())
}

// Get returns the user bound to the cognito_id path parameter.
func (u *UsersController) Get(c *fiber.Ctx) error {
	user, err := u.Users.GetByExternalID(c.UserContext(), c.Params("cognito_id"))
	if err != nil {
		return err
	}
	return c.JSON(user.ToResponse())
}

// Profile returns the session user.
func (u *UsersController) Profile(c *fiber.Ctx) error {
	user, ok := CurrentUser(c)
	if !ok {
		return NewUnauthenticated(DetailTokenMissing, nil)
	}
	return c.JSON(user.ToResponse())
}

// UpdateProfile writes name, email and optionally role of the session user.
func (u *UsersController) UpdateProfile(c *fiber.Ctx) error {
	user, ok := CurrentUser(c)
	if !ok {
		return NewUnauthenticated(DetailTokenMissing, nil)
	}

	payload := new(UpdateProfilePayload)
	if err := c.BodyParser(payload); err != nil {
		return NewValidationError(err)
	}

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	updated, err := u.Users.UpdateProfile(c.UserContext(), payload.Apply(user))
	if err != nil {
		return err
	}

	u.Logger.Info("profile updated", "user_id", updated.ID)
	return c.JSON(updated.ToResponse())
}

// Health answers liveness probes.
func Health(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// RegisterRoutes mounts the service routes on router. session guards the
// profile routes.
func RegisterRoutes(router fiber.Router, auth *AuthController, users *UsersController, session fiber.Handler) {
	router.Get("/healthz", Health)

	router.Get("/auth/login", auth.Login)
	router.Get("/callback", auth.Callback)
	router.Get("/auth/logout", auth.Logout)

	router.Post("/users/", users.Create)
	router.Get("/users/:cognito_id", users.Get)

	profile := router.Group("/user/profile", session)
	profile.Get("/", users.Profile)
	profile.Put("/update", users.UpdateProfile)
}
