package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const teacherRole = "teacher"

var ErrMissingSecret = errors.New("auth: signing secret is empty")

// TeacherClaims scope a report token to exactly one class.
type TeacherClaims struct {
	ClassCode string `json:"class_code"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func NewTeacherToken(secret, issuer string, ttl time.Duration, classCode string) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, ErrMissingSecret
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := TeacherClaims{
		ClassCode: classCode,
		Role:      teacherRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   classCode,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, expiresAt, err
}

func ParseTeacherToken(secret, issuer, tokenString string) (*TeacherClaims, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &TeacherClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TeacherClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Role != teacherRole || claims.ClassCode == "" {
		return nil, errors.New("auth: not a teacher token")
	}
	return claims, nil
}
