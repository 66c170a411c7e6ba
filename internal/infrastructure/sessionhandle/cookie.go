package sessionhandle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

var _ ports.SessionHandle = (*Cookie)(nil)

// CookieSigner signs session ids stored in browser cookies so a client
// cannot swap in another user's id without the server secret.
type CookieSigner struct {
	secretKey []byte
	name      string
	maxAge    int
	secure    bool
}

func NewCookieSigner(secretKey, name string, maxAge int, secure bool) *CookieSigner {
	return &CookieSigner{
		secretKey: []byte(secretKey),
		name:      name,
		maxAge:    maxAge,
		secure:    secure,
	}
}

func (s *CookieSigner) sign(id string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// verify returns the id inside a signed value, or "" when the signature
// does not match.
func (s *CookieSigner) verify(value string) string {
	i := strings.LastIndex(value, ".")
	if i <= 0 {
		return ""
	}
	id := value[:i]
	if !hmac.Equal([]byte(value), []byte(s.sign(id))) {
		return ""
	}
	return id
}

func (s *CookieSigner) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Cookie is the browser flavor of Header: the X-Session-ID request header
// wins when present, otherwise a correctly signed cookie seeds the slot.
// Changes are written to both.
type Cookie struct {
	header *Header
	signer *CookieSigner
	w      http.ResponseWriter

	mu sync.Mutex
}

func NewCookie(signer *CookieSigner, r *http.Request, w http.ResponseWriter) *Cookie {
	c := &Cookie{header: NewHeader(r, w), signer: signer, w: w}
	if _, ok := c.header.Get(); !ok && r != nil {
		if cookie, err := r.Cookie(signer.name); err == nil {
			if id := signer.verify(cookie.Value); id != "" {
				c.header.id = domain.SessionID(id)
			}
		}
	}
	return c
}

func (c *Cookie) Get() (domain.SessionID, bool) {
	return c.header.Get()
}

func (c *Cookie) Set(id domain.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	http.SetCookie(c.w, c.signer.cookie(c.signer.sign(string(id)), c.signer.maxAge))
	return c.header.Set(id)
}

func (c *Cookie) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	http.SetCookie(c.w, c.signer.cookie("", -1))
	return c.header.Clear()
}
