// Package auth проверяет bearer-токены: локально по HMAC-подписи или через сервис аутентификации.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ErrInvalidToken — подпись, срок или состав claims не приняты.
var ErrInvalidToken = fmt.Errorf("%w: invalid or expired token", domain.ErrUnauthenticated)

type tokenClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier проверяет HMAC-подписанные токены с claims {id, role}.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier создаёт локальный верификатор.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired()),
	}, nil
}

// Verify возвращает claims токена или ErrInvalidToken.
func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.ErrUnauthenticated
	}
	var claims tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.ID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return domain.Claims{}, fmt.Errorf("%w: id claim is missing", ErrInvalidToken)
	}
	return domain.Claims{UserID: userID, Role: normalizeRole(claims.Role), Token: token}, nil
}

// Issue подписывает токен HS256. Используется нагрузочным генератором и тестами.
func Issue(secret, userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		ID:   userID,
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func normalizeRole(role string) domain.Role {
	if domain.Role(strings.ToLower(strings.TrimSpace(role))) == domain.RoleAdmin {
		return domain.RoleAdmin
	}
	return domain.RoleCustomer
}

var _ domain.TokenVerifier = (*JWTVerifier)(nil)
