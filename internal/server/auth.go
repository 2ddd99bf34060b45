package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tyrowin/relayhub/internal/relay"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when /ws requires a token and none was sent.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken covers bad signatures, expired tokens and missing claims.
	ErrInvalidToken = errors.New("invalid token")
)

// tokenVerifier checks HS256 tokens presented at the WebSocket handshake.
// The subject becomes the user id and the "username" claim the display name.
type tokenVerifier struct {
	secret []byte
}

// newTokenVerifier returns nil when no secret is configured.
func newTokenVerifier(secret string) *tokenVerifier {
	if secret == "" {
		return nil
	}
	return &tokenVerifier{secret: []byte(secret)}
}

func (v *tokenVerifier) verify(raw string) (relay.Identity, error) {
	if raw == "" {
		return relay.Identity{}, ErrMissingToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return relay.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return relay.Identity{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return relay.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	if strings.TrimSpace(username) == "" {
		return relay.Identity{}, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}

	return relay.Identity{UserID: sub, Username: username}, nil
}

// tokenFromRequest reads the token query parameter, falling back to a
// Bearer Authorization header. Browsers cannot set headers on WebSocket
// requests, hence the query parameter.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
