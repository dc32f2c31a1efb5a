package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// Claims carried by gateway tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Verifier validates HS256 bearer tokens issued elsewhere and turns them into identities
type Verifier struct {
	secret []byte
	now    func() time.Time
}

var _ interfaces.IdentityVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier for tokens signed with secret
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses token and returns the identity it asserts
func (v *Verifier) Verify(token string) (*types.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// Only the HMAC family is accepted
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.Username == "" {
		return nil, ErrMissingClaims
	}
	if !types.IsValidUserID(claims.Subject) {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}

	return &types.Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// Issue signs a token for identity valid for ttl. Used by tests and tooling;
// the gateway itself only consumes tokens.
func (v *Verifier) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: identity.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ExtractToken reads a bearer token from the token query parameter or the
// Authorization header, in that order
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
