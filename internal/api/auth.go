package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/errors"
)

const contextUserIDKey = "user_id"

// Claims is the JWT payload carried by every authenticated request.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// AuthService signs and verifies access tokens.
type AuthService struct {
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
}

func NewAuthService(settings *conf.Settings) *AuthService {
	return &AuthService{
		secret:     []byte(settings.Auth.JWTSecret),
		tokenTTL:   settings.Auth.TokenExpiry,
		bcryptCost: settings.Auth.BcryptCost,
	}
}

// Sign issues a token for the user.
func (a *AuthService) Sign(user *datastore.User) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(a.tokenTTL)
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "imagevault",
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.New(err).
			Component("api").
			Category(errors.CategoryAuth).
			Build()
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning its claims.
func (a *AuthService) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.NewStd("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return Claims{}, errors.New(err).
			Component("api").
			Category(errors.CategoryAuth).
			Build()
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.Newf("invalid token").
			Component("api").
			Category(errors.CategoryAuth).
			Build()
	}
	return *claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated user id on the request context.
func (a *AuthService) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Code: http.StatusUnauthorized})
			}
			claims, err := a.Verify(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: http.StatusUnauthorized})
			}
			c.Set(contextUserIDKey, claims.UserID)
			return next(c)
		}
	}
}

func currentUserID(c echo.Context) uint {
	id, _ := c.Get(contextUserIDKey).(uint)
	return id
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
}

// Register creates a new user account.
func (c *Controller) Register(ctx echo.Context) error {
	var req registerRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}
	if req.Username == "" || req.Password == "" {
		return c.HandleError(ctx, errors.ValidationError("username and password are required"), "username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), c.auth.bcryptCost)
	if err != nil {
		return c.HandleError(ctx, err, "failed to hash password")
	}

	user := &datastore.User{Username: req.Username, Email: req.Email, PasswordHash: string(hash)}
	if err := c.DS.CreateUser(user); err != nil {
		if errors.IsConflict(err) {
			return c.HandleError(ctx, err, "username already taken")
		}
		return c.HandleError(ctx, err, "failed to create user")
	}

	return ctx.JSON(http.StatusCreated, map[string]any{"user_id": user.ID, "username": user.Username})
}

// Login verifies credentials and issues a token.
func (c *Controller) Login(ctx echo.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("malformed request body"), "malformed request body")
	}

	user, err := c.DS.GetUserByUsername(req.Username)
	if err != nil {
		// Indistinguishable from a wrong password.
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials", Code: http.StatusUnauthorized})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials", Code: http.StatusUnauthorized})
	}

	token, expiresAt, err := c.auth.Sign(&user)
	if err != nil {
		return c.HandleError(ctx, err, "failed to issue token")
	}
	return ctx.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt, UserID: user.ID, Username: user.Username})
}
