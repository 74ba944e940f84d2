package net

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/message"
)

// CookieJar issues per-endpoint handshake cookies and verifies the signed
// responses. Cookies expire so a stalled peer cannot hold one forever.
type CookieJar struct {
	cookies *gocache.Cache
}

func NewCookieJar(ttl time.Duration) *CookieJar {
	return &CookieJar{cookies: gocache.New(ttl, ttl)}
}

// Assign mints a cookie for the endpoint, replacing any previous one.
func (j *CookieJar) Assign(endpoint types.Endpoint) [32]byte {
	var cookie [32]byte
	copy(cookie[:], crypto.GetEntropyCSPRNG(32))
	j.cookies.Set(endpoint.String(), cookie, gocache.DefaultExpiration)
	return cookie
}

// Validate checks a handshake response against the endpoint's outstanding
// cookie and consumes it on success.
func (j *CookieJar) Validate(endpoint types.Endpoint, response *message.HandshakeResponse) bool {
	v, ok := j.cookies.Get(endpoint.String())
	if !ok {
		return false
	}
	cookie := v.([32]byte)
	if !response.Validate(cookie) {
		return false
	}
	j.cookies.Delete(endpoint.String())
	return true
}
