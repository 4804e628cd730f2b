package service

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-audit-trail/internal/model"
	"go-audit-trail/pkg/apierror"
)

// AuthService validates bearer tokens minted by the host application's
// identity service. It shares the HMAC secret with that service and never
// sees credentials.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTTL time.Duration) (*AuthService, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}

	return &AuthService{jwtSecret: []byte(jwtSecret), accessTTL: accessTTL}, nil
}

func (s *AuthService) ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New("UNAUTHORIZED", "invalid token signing method", "", http.StatusUnauthorized)
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierror.New("UNAUTHORIZED", "invalid token", "", http.StatusUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.New("UNAUTHORIZED", "invalid token claims", "", http.StatusUnauthorized)
	}

	typ, _ := claimsMap["typ"].(string)
	if expectedType != "" && typ != expectedType {
		return nil, apierror.New("UNAUTHORIZED", "invalid token type", "", http.StatusUnauthorized)
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Name, _ = claimsMap["name"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	actorID, err := strconv.ParseInt(strings.TrimSpace(claims.UserID), 10, 64)
	if err != nil || actorID <= 0 {
		return nil, apierror.New("UNAUTHORIZED", "invalid token subject", "", http.StatusUnauthorized)
	}
	claims.ActorID = actorID

	return claims, nil
}

// IssueAccessToken signs an access token for actorID. Production tokens come
// from the identity service; this exists for local tooling and tests.
func (s *AuthService) IssueAccessToken(actorID int64, name string, role string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(actorID, 10),
		"name": name,
		"role": role,
		"typ":  "access",
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}
