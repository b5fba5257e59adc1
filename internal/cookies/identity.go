package cookies

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CookieName is the identity cookie's name.
const CookieName = "sid"

// cookieMaxAge is one year, in seconds.
const cookieMaxAge = 31536000

// identityKey is the gin context key the resolved identity is stored under.
const identityKey = "instant.identity"

// Identity is the session record carried inside the signed cookie payload.
type Identity struct {
	UUID     string `json:"uuid"`
	IssuedAt int64  `json:"issued_at"`
}

// Issuer resolves and refreshes the identity cookie on HTTP responses.
type Issuer struct {
	codec  *Codec
	secure bool
}

// NewIssuer builds an Issuer. secure controls the cookie's Secure attribute.
func NewIssuer(codec *Codec, secure bool) *Issuer {
	return &Issuer{codec: codec, secure: secure}
}

// Middleware verifies the inbound identity cookie, minting a new identity
// when the cookie is missing or invalid, and re-issues it on the response.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := i.Resolve(c.Request)
		c.Set(identityKey, ident)
		i.SetCookie(c.Writer, ident)
		c.Next()
	}
}

// Resolve extracts a valid identity from the request, or mints a new one.
func (i *Issuer) Resolve(r *http.Request) Identity {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if payload, ok := i.codec.Verify(cookie.Value); ok {
			var ident Identity
			if err := json.Unmarshal(payload, &ident); err == nil && ident.UUID != "" {
				return ident
			}
		}
	}
	return Identity{UUID: uuid.NewString(), IssuedAt: time.Now().UnixMilli()}
}

// SetCookie writes the signed identity cookie onto the response.
func (i *Issuer) SetCookie(w http.ResponseWriter, ident Identity) {
	payload, err := json.Marshal(ident)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    i.codec.Sign(payload),
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromContext returns the identity resolved by the middleware, if any.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	ident, ok := v.(Identity)
	return ident, ok
}
