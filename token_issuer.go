package main

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// AccessClaims is the payload encoded in issued access tokens. Subject
// carries the user id.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer creates and validates the bearer tokens used by the REST API.
type TokenIssuer interface {
	CreateToken(userId string, role string) (string, error)
	ParseToken(token string) (*AccessClaims, error)
}

type RsaTokenIssuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	lifetime   time.Duration
}

func NewRsaTokenIssuer(privateKeyPath string, issuer string, lifetime time.Duration) (*RsaTokenIssuer, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return NewRsaTokenIssuerFromKey(privateKey, issuer, lifetime), nil
}

// NewRsaTokenIssuerFromKey builds an issuer around an already parsed key.
func NewRsaTokenIssuerFromKey(privateKey *rsa.PrivateKey, issuer string, lifetime time.Duration) *RsaTokenIssuer {
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return &RsaTokenIssuer{
		privateKey: privateKey,
		issuer:     issuer,
		lifetime:   lifetime,
	}
}

func (t *RsaTokenIssuer) CreateToken(userId string, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(t.privateKey)
}

func (t *RsaTokenIssuer) ParseToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &t.privateKey.PublicKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}
