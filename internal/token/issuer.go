package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access tokens from refresh tokens. A token of one
// type is never accepted where the other is required.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	ErrNoToken        = errors.New("no token provided")
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrNotYetValid    = errors.New("token not yet valid")
)

// Config holds issuer settings. Access and refresh tokens are signed with
// distinct secrets, so a refresh token can never be presented as an access
// token even if the two secrets were ever confused.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims are the JWT claims carried by both token types.
type Claims struct {
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair minted for one subject.
type Pair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresIn  int64  `json:"access_expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Issuer mints and validates dual-lifetime token pairs.
type Issuer struct {
	config Config
	now    func() time.Time
}

// NewIssuer creates an issuer from cfg.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token issuer requires both signing secrets")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Issuer{config: cfg, now: time.Now}, nil
}

// SetClock overrides the issuer's clock. Tests only.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Issue mints a token pair for subjectID.
func (i *Issuer) Issue(subjectID string) (*Pair, error) {
	access, err := i.sign(subjectID, TypeAccess, i.config.AccessTTL, i.config.AccessSecret)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(subjectID, TypeRefresh, i.config.RefreshTTL, i.config.RefreshSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresIn:  int64(i.config.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(i.config.RefreshTTL.Seconds()),
	}, nil
}

func (i *Issuer) sign(subjectID string, typ TokenType, ttl time.Duration, secret []byte) (string, error) {
	now := i.now()
	claims := Claims{
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify validates tokenString as the expected type and returns the subject.
func (i *Issuer) Verify(tokenString string, expected TokenType) (string, error) {
	if tokenString == "" {
		return "", ErrNoToken
	}

	secret := i.config.AccessSecret
	if expected == TypeRefresh {
		secret = i.config.RefreshSecret
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrMalformedToken
			}
			return secret, nil
		},
		jwt.WithTimeFunc(i.now),
		jwt.WithLeeway(i.config.Leeway),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return "", ErrNotYetValid
		default:
			// Signature mismatch is indistinguishable from tampering; both
			// collapse to malformed. A wrong-type token fails here too since
			// it was signed with the other secret.
			if claims.TokenType != "" && claims.TokenType != expected {
				return "", ErrWrongTokenType
			}
			return "", ErrMalformedToken
		}
	}
	if !parsed.Valid {
		return "", ErrMalformedToken
	}
	if claims.TokenType != expected {
		return "", ErrWrongTokenType
	}
	if claims.Subject == "" {
		return "", ErrMalformedToken
	}

	return claims.Subject, nil
}

// OptionalVerify resolves a token to its subject, treating any missing or
// invalid token as anonymous. It never fails.
func (i *Issuer) OptionalVerify(tokenString string) (string, bool) {
	subject, err := i.Verify(tokenString, TypeAccess)
	if err != nil {
		return "", false
	}
	return subject, true
}
