package httpx

import (
	"net/http"
	"strings"
)

// CredentialSource tags where a bearer credential was found. Resolution is
// a strict precedence walk, never a probe of both carriers at once.
type CredentialSource int

const (
	SourceAbsent CredentialSource = iota
	SourceHeader
	SourceCookie
)

func (s CredentialSource) String() string {
	switch s {
	case SourceHeader:
		return "header"
	case SourceCookie:
		return "cookie"
	default:
		return "absent"
	}
}

// Credential is the raw token extracted from a request plus its carrier.
type Credential struct {
	Token  string
	Source CredentialSource
}

// ResolveCredential extracts the candidate access token from a request.
// A bearer-scheme Authorization header always wins; anything else, including
// a non-bearer Authorization header, falls back to the named cookie. No
// cryptographic work happens here.
func ResolveCredential(r *http.Request, cookieName string) Credential {
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, token, found := strings.Cut(authz, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return Credential{Token: token, Source: SourceHeader}
			}
		}
	}

	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return Credential{Token: c.Value, Source: SourceCookie}
	}

	return Credential{Source: SourceAbsent}
}
