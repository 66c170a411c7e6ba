package sessionhandle

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"audiocast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookie_RoundTrip(t *testing.T) {
	signer := NewCookieSigner("secret", "audiocast_session", 3600, true)

	w := httptest.NewRecorder()
	h := NewCookie(signer, httptest.NewRequest(http.MethodPost, "/", nil), w)
	_, ok := h.Get()
	assert.False(t, ok)

	require.NoError(t, h.Set("1700000000000-abc"))
	assert.Equal(t, "1700000000000-abc", w.Header().Get(HeaderName))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	next := httptest.NewRequest(http.MethodPost, "/", nil)
	next.AddCookie(cookies[0])
	id, ok := NewCookie(signer, next, httptest.NewRecorder()).Get()
	assert.True(t, ok)
	assert.Equal(t, domain.SessionID("1700000000000-abc"), id)
}

func TestCookie_RejectsForgedValue(t *testing.T) {
	signer := NewCookieSigner("secret", "audiocast_session", 3600, false)
	other := NewCookieSigner("other-secret", "audiocast_session", 3600, false)

	for _, value := range []string{"victim-session", "victim-session.deadbeef", other.sign("victim-session"), ".sig"} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.AddCookie(&http.Cookie{Name: "audiocast_session", Value: value})
		_, ok := NewCookie(signer, r, httptest.NewRecorder()).Get()
		assert.False(t, ok, value)
	}
}

func TestCookie_HeaderWins(t *testing.T) {
	signer := NewCookieSigner("secret", "audiocast_session", 3600, false)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(HeaderName, "from-header")
	r.AddCookie(&http.Cookie{Name: "audiocast_session", Value: signer.sign("from-cookie")})

	id, ok := NewCookie(signer, r, httptest.NewRecorder()).Get()
	assert.True(t, ok)
	assert.Equal(t, domain.SessionID("from-header"), id)
}

func TestCookie_ClearExpiresCookie(t *testing.T) {
	signer := NewCookieSigner("secret", "audiocast_session", 3600, false)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: "audiocast_session", Value: signer.sign("s1")})

	w := httptest.NewRecorder()
	h := NewCookie(signer, r, w)
	require.NoError(t, h.Clear())

	_, ok := h.Get()
	assert.False(t, ok)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}
