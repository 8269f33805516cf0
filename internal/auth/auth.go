package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/golang-jwt/jwt/v5"
)

const PermissionAdmin = "admin"

// Claims represents JWT token claims
type Claims struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Actor() *internal.Actor {
	return &internal.Actor{
		ID:          c.UserID,
		Email:       c.Email,
		Permissions: c.Permissions,
	}
}

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// JWTTokenService signs and validates HS256 access tokens. The payout engine only consumes
// tokens; GenerateAccessToken exists for the token CLI and tests.
type JWTTokenService struct {
	Secret         []byte
	AccessTokenTTL time.Duration
	now            func() time.Time
}

// NewJWTTokenService creates a token service, defaulting the TTL to 15 minutes
func NewJWTTokenService(secret string, ttl time.Duration) *JWTTokenService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTTokenService{
		Secret:         []byte(secret),
		AccessTokenTTL: ttl,
		now:            time.Now,
	}
}

// GenerateAccessToken creates a new access token
func (j *JWTTokenService) GenerateAccessToken(actor internal.Actor) (string, error) {
	if actor.ID <= 0 {
		return "", fmt.Errorf("actor id must be positive")
	}
	issuedAt := j.now()

	claims := &Claims{
		UserID:      actor.ID,
		Email:       actor.Email,
		Permissions: actor.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(j.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Subject:   strconv.FormatInt(actor.ID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
