// Package sessionhandle holds the device-local "current session id" slot in
// the places a device can keep it: process memory, a file, or the headers
// of one HTTP exchange.
package sessionhandle

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

// HeaderName carries the session id between a client and the console API.
const HeaderName = "X-Session-ID"

var (
	_ ports.SessionHandle = (*Memory)(nil)
	_ ports.SessionHandle = (*File)(nil)
	_ ports.SessionHandle = (*Header)(nil)
)

type Memory struct {
	mu sync.RWMutex
	id domain.SessionID
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get() (domain.SessionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id, m.id != ""
}

func (m *Memory) Set(id domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

func (m *Memory) Clear() error {
	return m.Set("")
}

// File persists the session id across process restarts.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Get() (domain.SessionID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(data))
	return domain.SessionID(id), id != ""
}

func (f *File) Set(id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(id), 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Header binds the slot to one request/response pair: the request header
// seeds it, and every change is mirrored onto the response header.
type Header struct {
	mu      sync.Mutex
	id      domain.SessionID
	written http.Header
}

func NewHeader(r *http.Request, w http.ResponseWriter) *Header {
	h := &Header{written: w.Header()}
	if r != nil {
		h.id = domain.SessionID(strings.TrimSpace(r.Header.Get(HeaderName)))
	}
	return h
}

func (h *Header) Get() (domain.SessionID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.id != ""
}

func (h *Header) Set(id domain.SessionID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = id
	h.written.Set(HeaderName, string(id))
	return nil
}

// Clear empties the slot; the response carries an empty header so the
// client drops its copy too.
func (h *Header) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = ""
	h.written.Set(HeaderName, "")
	return nil
}
