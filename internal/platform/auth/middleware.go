package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/medibridge/clinic/internal/domain/identity"
)

type contextKey string

const (
	UserKey contextKey = "user"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 24 * time.Hour

type Claims struct {
	jwt.RegisteredClaims
	Email string        `json:"email"`
	Role  identity.Role `json:"role"`
	Name  string        `json:"name"`
}

// Identity rebuilds the user carried by the claims.
func (c *Claims) Identity() (identity.Identity, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	u := identity.Identity{ID: uint(id), Email: c.Email, Role: c.Role, Name: c.Name}
	if !u.Valid() {
		return identity.Identity{}, fmt.Errorf("invalid identity in token")
	}
	return u, nil
}

type JWTConfig struct {
	Issuer string
	// SigningKey is the HMAC secret shared by issuer and verifier.
	SigningKey []byte
	TTL        time.Duration
	// Skipper lets public routes through without a token.
	Skipper func(c echo.Context) bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (cfg JWTConfig) now() time.Time {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now()
}

// IssueToken signs an HS256 token for u.
func IssueToken(cfg JWTConfig, u identity.Identity) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", fmt.Errorf("auth: signing key is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
		Role:  u.Role,
		Name:  u.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies tokenStr and returns its claims.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}

// JWTMiddleware rejects requests without a valid bearer token and stores the
// caller's identity on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}
			u, err := claims.Identity()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			ctx := contextWithUser(c.Request().Context(), u)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// UserFromContext returns the identity stored by JWTMiddleware.
func UserFromContext(ctx context.Context) (identity.Identity, bool) {
	u, ok := ctx.Value(UserKey).(identity.Identity)
	return u, ok
}

func contextWithUser(ctx context.Context, u identity.Identity) context.Context {
	return context.WithValue(ctx, UserKey, u)
}
