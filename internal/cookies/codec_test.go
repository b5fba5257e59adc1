package cookies

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSignVerify_RoundTrip(t *testing.T) {
	c := NewCodec(testKey(t))

	payloads := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte(`{"uuid":"abc","issued_at":1}`),
		{0x00, 0xff, 0x7f},
	}
	for _, p := range payloads {
		token := c.Sign(p)
		got, ok := c.Verify(token)
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
}

func TestVerify_RejectsForgeries(t *testing.T) {
	c := NewCodec(testKey(t))
	token := c.Sign([]byte("payload"))

	// Every failure mode returns the same "no valid identity" result.
	cases := []string{
		"",
		"just-one-part",
		"a.b.c",
		"!!!." + strings.Split(token, ".")[1],
		strings.Split(token, ".")[0] + ".!!!",
		strings.Split(token, ".")[0] + ".AAAA",
	}
	for _, forged := range cases {
		payload, ok := c.Verify(forged)
		assert.False(t, ok, forged)
		assert.Nil(t, payload, forged)
	}
}

func TestVerify_RejectsOtherKey(t *testing.T) {
	a := NewCodec(testKey(t))
	b := NewCodec(testKey(t))

	token := a.Sign([]byte("payload"))
	_, ok := b.Verify(token)
	assert.False(t, ok)
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	c := NewCodec(testKey(t))
	token := c.Sign([]byte("payload"))

	parts := strings.Split(token, ".")
	other := c.Sign([]byte("other"))
	tampered := strings.Split(other, ".")[0] + "." + parts[1]

	_, ok := c.Verify(tampered)
	assert.False(t, ok)
}

func TestLoadOrCreateKey_Generated(t *testing.T) {
	key, err := LoadOrCreateKey("")
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	other, err := LoadOrCreateKey("")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestLoadOrCreateKey_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	want := testKey(t)
	require.NoError(t, os.WriteFile(path, want, 0o600))

	key, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, want, key)
}

func TestLoadOrCreateKey_MissingFileFails(t *testing.T) {
	_, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoadOrCreateKey_WrongSizeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0o600))

	_, err := LoadOrCreateKey(path)
	assert.Error(t, err)
}

func TestIssuer_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := NewIssuer(NewCodec(testKey(t)), true)

	router := gin.New()
	router.Use(issuer.Middleware())
	router.GET("/", func(c *gin.Context) {
		ident, ok := FromContext(c)
		assert.True(t, ok)
		assert.NotEmpty(t, ident.UUID)
		c.Status(http.StatusOK)
	})

	// First request mints an identity.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	res := rec.Result()
	var sid *http.Cookie
	for _, ck := range res.Cookies() {
		if ck.Name == CookieName {
			sid = ck
		}
	}
	require.NotNil(t, sid)
	assert.True(t, sid.HttpOnly)
	assert.True(t, sid.Secure)
	assert.Equal(t, http.SameSiteLaxMode, sid.SameSite)
	assert.Equal(t, "/", sid.Path)
	assert.Equal(t, cookieMaxAge, sid.MaxAge)

	// Replaying the cookie keeps the same identity.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sid)
	first := issuer.Resolve(req)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(sid)
	second := issuer.Resolve(req2)

	assert.Equal(t, first.UUID, second.UUID)
}

func TestIssuer_InvalidCookieMintsFresh(t *testing.T) {
	issuer := NewIssuer(NewCodec(testKey(t)), false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage.token"})

	ident := issuer.Resolve(req)
	assert.NotEmpty(t, ident.UUID)
}
