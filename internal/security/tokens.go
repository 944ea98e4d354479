package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret is returned when an HMAC secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("signing secret too short")
)

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
}

// AccessSubject is what an access token is minted for.
type AccessSubject struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// TokenProvider signs and verifies access tokens. HS256 with a server secret is
// the default; RS256/ES256 are used when a PEM key pair is configured.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// TokenOption customizes a TokenProvider.
type TokenOption func(*TokenProvider)

// WithTokenClock overrides the clock used for iat/exp and for verification.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) { p.now = now }
}

// NewHMACTokenProvider returns an HS256 TokenProvider. secret must be at least MinSecretLength bytes.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration, opts ...TokenOption) (*TokenProvider, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return newTokenProvider(jwt.SigningMethodHS256, secret, secret, issuer, audience, accessTTL, opts), nil
}

// NewKeyPairTokenProvider returns a TokenProvider that signs with privateKey (RS256 or ES256)
// and verifies with publicKey.
func NewKeyPairTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration, opts ...TokenOption) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch KeyAlg(privateKey.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrInvalidKey
	}
	return newTokenProvider(method, privateKey, publicKey, issuer, audience, accessTTL, opts), nil
}

func newTokenProvider(method jwt.SigningMethod, signKey, verifyKey interface{}, issuer, audience string, accessTTL time.Duration, opts []TokenOption) *TokenProvider {
	p := &TokenProvider{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for sub. Returns the token and its expiration time.
func (p *TokenProvider) IssueAccess(sub AccessSubject) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     sub.Email,
		Role:      sub.Role,
		SessionID: sub.SessionID,
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token: signature and algorithm, iss, aud,
// and exp with no leeway. sub and role must be present. Every failure is ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(p.now),
	)
	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
