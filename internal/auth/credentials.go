package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// hashPassword はbcryptでパスワードをハッシュ化する。
func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// checkPassword はハッシュとパスワードが一致するかを返す。
func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const confirmPurpose = "email_confirm"

var errInvalidConfirmToken = errors.New("invalid confirmation token")

// confirmClaims はメール確認リンクのトークンに含めるクレーム。
type confirmClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

// TokenIssuer はメール確認トークン（HS256 JWT）を発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, nowFn: time.Now}
}

// Issue はユーザーのメール確認トークンを発行する。
func (i *TokenIssuer) Issue(userID, email string) (string, error) {
	now := i.nowFn()
	claims := confirmClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email:   email,
		Purpose: confirmPurpose,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign confirmation token: %w", err)
	}
	return token, nil
}

// Verify はトークンを検証し、ユーザーIDとメールアドレスを返す。
func (i *TokenIssuer) Verify(raw string) (userID, email string, err error) {
	claims := &confirmClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.nowFn),
	)
	if err != nil || tok == nil || !tok.Valid {
		return "", "", errInvalidConfirmToken
	}
	if claims.Purpose != confirmPurpose || claims.Subject == "" {
		return "", "", errInvalidConfirmToken
	}
	return claims.Subject, claims.Email, nil
}
