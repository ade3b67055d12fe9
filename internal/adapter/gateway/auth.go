package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"croncat/internal/domain"
)

// ClientInfo identifies an authenticated gateway client. Account is the
// caller identity every RPC on the connection runs as.
type ClientInfo struct {
	Name    string
	Account string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// TokenEntry binds one static token to an account.
type TokenEntry struct {
	Token   string
	Name    string
	Account string
}

type authEntry struct {
	token []byte
	info  ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from token entries. An entry
// without a name is named after its account.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Token == "" || e.Account == "" {
			continue
		}
		name := e.Name
		if name == "" {
			name = e.Account
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(e.Token),
			info:  ClientInfo{Name: name, Account: e.Account},
		})
	}
	return a
}

// Authenticate returns a copy of the client info bound to token.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	tokenBytes := []byte(token)
	var match *ClientInfo
	for i := range s.entries {
		// Compare against every entry so timing does not reveal the position.
		if subtle.ConstantTimeCompare(tokenBytes, s.entries[i].token) == 1 && match == nil {
			info := s.entries[i].info
			match = &info
		}
	}
	if match == nil {
		return nil, domain.ErrGatewayAuthFailed
	}
	return match, nil
}

// tokenFromRequest reads the token from the "token" query parameter or a
// bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
