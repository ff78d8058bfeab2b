package remote

import "net/http"

// Authenticator provides the Authorization header for cache server requests.
type Authenticator interface {
	// Authorization returns the header value, or "" to send none.
	Authorization() string
}

// Token authenticates with a static bearer token.
type Token string

func (t Token) Authorization() string {
	if t == "" {
		return ""
	}
	return "Bearer " + string(t)
}

func authorize(req *http.Request, auth Authenticator) {
	if auth == nil {
		return
	}
	if v := auth.Authorization(); v != "" {
		req.Header.Set("Authorization", v)
	}
}
