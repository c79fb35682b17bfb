package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testKeyID    = "test-key-1"
	testIssuer   = "https://idp.agency.test"
	testAudience = "portdesk"
)

// tokenIssuer signs test JWTs. The mock backend verifies them with the
// issuer's public key, the way the real agency backend does.
type tokenIssuer struct {
	privateKey *rsa.PrivateKey
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return &tokenIssuer{privateKey: key}
}

func (ti *tokenIssuer) sign(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
		"jti": uuid.NewString(),
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(ti.privateKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// generateToken creates a token valid for one hour.
func (ti *tokenIssuer) generateToken(t *testing.T, subject string) string {
	return ti.sign(t, subject, time.Now().Add(time.Hour))
}

// generateExpiredToken creates a token that expired a minute ago.
func (ti *tokenIssuer) generateExpiredToken(t *testing.T, subject string) string {
	return ti.sign(t, subject, time.Now().Add(-time.Minute))
}

// verify checks the bearer token of r and returns its subject.
func (ti *tokenIssuer) verify(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	token, err := jwt.Parse(auth[7:],
		func(token *jwt.Token) (any, error) {
			if kid, _ := token.Header["kid"].(string); kid != testKeyID {
				return nil, errors.New("unknown signing key")
			}
			return &ti.privateKey.PublicKey, nil
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(testIssuer),
		jwt.WithAudience(testAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}
