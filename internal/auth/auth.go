package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adilzhan/dealsync/internal/model"
)

// Claims is the access-token payload.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Name        string   `json:"name"`
	LastName    string   `json:"last_name"`
	City        string   `json:"city"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Issuer mints HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) Issue(user model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      user.ID,
		Name:        user.Name,
		LastName:    user.LastName,
		City:        user.City,
		Permissions: user.Permissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parser validates access tokens and extracts the caller principal.
type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

func (p *Parser) Parse(tokenString string) (model.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return model.Principal{}, err
	}
	if !token.Valid {
		return model.Principal{}, fmt.Errorf("invalid token")
	}

	return model.Principal{
		UserID:      claims.UserID,
		Name:        claims.Name,
		LastName:    claims.LastName,
		City:        claims.City,
		Permissions: claims.Permissions,
	}, nil
}
