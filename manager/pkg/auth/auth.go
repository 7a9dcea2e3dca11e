package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AdminClaims identifies an authenticated administrator.
type AdminClaims struct {
	Subject   string
	TokenID   uuid.UUID
	ExpiresAt time.Time
}

type JWTManager struct {
	secretKey string
	ttl       time.Duration
	now       func() time.Time
}

func NewJWTManager(secretKey string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTManager{secretKey: secretKey, ttl: ttl, now: time.Now}
}

// GenerateToken issues an admin token for subject.
func (j *JWTManager) GenerateToken(subject string) (string, error) {
	if j.secretKey == "" {
		return "", fmt.Errorf("JWT secret key is empty")
	}
	if subject == "" {
		return "", fmt.Errorf("token subject is empty")
	}

	issued := j.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"admin": true,
		"jti":   uuid.New().String(),
		"iat":   issued.Unix(),
		"exp":   issued.Add(j.ttl).Unix(),
	})

	return token.SignedString([]byte(j.secretKey))
}

func (j *JWTManager) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secretKey), nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if admin, _ := claims["admin"].(bool); !admin {
		return nil, errors.New("admin privileges required")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("invalid sub claim")
	}

	jtiStr, ok := claims["jti"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid jti claim")
	}
	jti, err := uuid.Parse(jtiStr)
	if err != nil {
		return nil, fmt.Errorf("invalid jti format")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("invalid exp claim")
	}

	return &AdminClaims{Subject: subject, TokenID: jti, ExpiresAt: exp.Time}, nil
}
