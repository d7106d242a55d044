package cookie

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/fleet-portal/internal/identity"
)

const issuer = "fleet-portal"

var (
	ErrInvalidToken = errors.New("cookie: invalid session token")
	ErrTokenExpired = errors.New("cookie: session token expired")
)

// Claims is the signed cookie payload. Cookie-backed sessions carry the
// whole snapshot; server-side stores only carry SessionID.
type Claims struct {
	SessionID string         `json:"sid,omitempty"`
	Token     string         `json:"tok,omitempty"`
	User      *identity.User `json:"usr,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session cookies with HS256.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

func (c *Codec) Encode(claims Claims, expiresAt time.Time) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(c.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if claims.User != nil {
		claims.Subject = claims.User.ID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

func (c *Codec) Decode(value string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
