package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
)

type TokenKind string

const (
	TokenKindDevice   TokenKind = "device"
	TokenKindOperator TokenKind = "operator"
)

// Claims identify either a paired device (Subject is the device id) or an
// operator (Subject is the user id). Both are scoped to one family.
type Claims struct {
	Kind     TokenKind `json:"kind"`
	FamilyID string    `json:"fam"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: config.TokenIssuer,
		now:    time.Now,
	}
}

func (s *TokenService) IssueDeviceToken(deviceID, familyID string) (string, error) {
	return s.issue(TokenKindDevice, deviceID, familyID, config.DeviceTokenExpiry)
}

func (s *TokenService) IssueOperatorToken(userID, familyID string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = config.OperatorTokenExpiry
	}
	return s.issue(TokenKindOperator, userID, familyID, expiry)
}

func (s *TokenService) issue(kind TokenKind, subject, familyID string, expiry time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("missing secret")
	}
	if subject == "" || familyID == "" {
		return "", errors.New("missing subject or family")
	}

	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", err
	}

	now := s.now()
	claims := Claims{
		Kind:     kind,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        hex.EncodeToString(jti),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and checks it was issued for the given kind.
func (s *TokenService) Verify(token string, kind TokenKind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, apperrors.InvalidToken("Invalid or expired token").WithCause(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperrors.InvalidToken("Invalid token")
	}
	if claims.Kind != kind {
		return nil, apperrors.InvalidToken("Token is not valid for this endpoint")
	}
	if claims.Subject == "" || claims.FamilyID == "" {
		return nil, apperrors.InvalidToken("Token is missing its subject")
	}
	return claims, nil
}
