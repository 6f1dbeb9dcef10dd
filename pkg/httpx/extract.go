package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoToken means no credential was presented. Whether that is an error is
// up to the caller.
var ErrNoToken = errors.New("httpx: no token")

// HandshakeTokenField is the key of the token inside a handshake auth
// payload, and QueryTokenParam the query parameter carrying one.
const (
	HandshakeTokenField = "token"
	QueryTokenParam     = "token"
)

// RequestView is the transport neutral part of a request a token can be
// found in. Plain HTTP routes only fill Header; realtime handshakes fill all
// three.
type RequestView struct {
	Header        http.Header
	HandshakeAuth map[string]any
	Query         url.Values
}

// ViewFromRequest returns a header only view of r.
func ViewFromRequest(r *http.Request) RequestView {
	return RequestView{Header: r.Header}
}

// HandshakeView returns the full view of a realtime connect: the auth
// payload the client sent along with the upgrade request's query and headers.
func HandshakeView(r *http.Request, auth map[string]any) RequestView {
	return RequestView{
		Header:        r.Header,
		HandshakeAuth: auth,
		Query:         r.URL.Query(),
	}
}

// ExtractToken returns the first non-blank token in the order handshake
// auth, query parameter, Authorization bearer header.
func ExtractToken(v RequestView) (string, error) {
	if raw, ok := v.HandshakeAuth[HandshakeTokenField].(string); ok {
		if tok := strings.TrimSpace(raw); tok != "" {
			return tok, nil
		}
	}

	if tok := strings.TrimSpace(v.Query.Get(QueryTokenParam)); tok != "" {
		return tok, nil
	}

	if tok, ok := BearerToken(v.Header.Get("Authorization")); ok {
		return tok, nil
	}

	return "", ErrNoToken
}

// BearerToken parses an Authorization header value. The scheme is matched
// case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
