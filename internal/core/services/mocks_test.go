package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

var errNetwork = errors.New("connection reset by peer")

type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) NextGeneration(ctx context.Context, userID domain.UserID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepository) CreateIfLatest(ctx context.Context, session *domain.UserSession) error {
	return m.Called(ctx, session).Error(0)
}

func (m *mockSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.UserSession, error) {
	args := m.Called(ctx, id)
	session, _ := args.Get(0).(*domain.UserSession)
	return session, args.Error(1)
}

func (m *mockSessionRepository) FindByUser(ctx context.Context, userID domain.UserID) ([]*domain.UserSession, error) {
	args := m.Called(ctx, userID)
	sessions, _ := args.Get(0).([]*domain.UserSession)
	return sessions, args.Error(1)
}

func (m *mockSessionRepository) List(ctx context.Context) ([]*domain.UserSession, error) {
	args := m.Called(ctx)
	sessions, _ := args.Get(0).([]*domain.UserSession)
	return sessions, args.Error(1)
}

func (m *mockSessionRepository) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSessionRepository) WatchSession(ctx context.Context, id domain.SessionID, fn func(*domain.UserSession)) (ports.Unsubscribe, error) {
	args := m.Called(ctx, id, fn)
	unsubscribe, _ := args.Get(0).(ports.Unsubscribe)
	return unsubscribe, args.Error(1)
}

func (m *mockSessionRepository) WatchAll(ctx context.Context, fn func([]*domain.UserSession)) (ports.Unsubscribe, error) {
	args := m.Called(ctx, fn)
	unsubscribe, _ := args.Get(0).(ports.Unsubscribe)
	return unsubscribe, args.Error(1)
}

// flakyPermissionRepository fails Create for chosen publishers and
// otherwise delegates.
type flakyPermissionRepository struct {
	ports.PermissionRepository
	failCreate map[domain.UserID]error
	failDelete map[domain.PermissionID]error
}

func (r *flakyPermissionRepository) Create(ctx context.Context, perm *domain.StreamPermission) (*domain.StreamPermission, error) {
	if err, ok := r.failCreate[perm.PublisherID]; ok {
		return nil, err
	}
	return r.PermissionRepository.Create(ctx, perm)
}

func (r *flakyPermissionRepository) Delete(ctx context.Context, id domain.PermissionID) error {
	if err, ok := r.failDelete[id]; ok {
		return err
	}
	return r.PermissionRepository.Delete(ctx, id)
}

type staticResolver struct {
	ip    string
	err   error
	delay time.Duration
}

func (r staticResolver) ResolveIP(ctx context.Context) (string, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.ip, r.err
}

// recordingMetrics counts calls by name.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += n
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) SessionCreated()                  { m.inc("created", 1) }
func (m *recordingMetrics) SessionDeleted()                  { m.inc("deleted", 1) }
func (m *recordingMetrics) SessionInvalidated(reason string) { m.inc("invalidated:"+reason, 1) }
func (m *recordingMetrics) SessionValidated(outcome string)  { m.inc("validated:"+outcome, 1) }
func (m *recordingMetrics) AssignmentOutcome(operation, outcome string, count int) {
	m.inc(operation+":"+outcome, count)
}

// fakeIdentity is a signed-in identity provider that counts sign-outs.
type fakeIdentity struct {
	mu        sync.Mutex
	current   *domain.Identity
	signOuts  int
	listeners map[int]func(*domain.Identity)
	nextID    int
}

func newFakeIdentity(userID domain.UserID) *fakeIdentity {
	return &fakeIdentity{
		current:   &domain.Identity{UserID: userID},
		listeners: make(map[int]func(*domain.Identity)),
	}
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	return nil, domain.ErrInvalidCredentials
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string) (*domain.Identity, error) {
	return nil, domain.ErrCredentialExists
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.current = nil
	listeners := make([]func(*domain.Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

func (f *fakeIdentity) Current() *domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeIdentity) OnIdentityChange(fn func(*domain.Identity)) ports.Unsubscribe {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	current := f.current
	f.mu.Unlock()

	fn(current)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeIdentity) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *fakeIdentity) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// stubRegistry answers ValidateSession with a fixed result and counts calls.
type stubRegistry struct {
	ports.SessionRegistry
	mu    sync.Mutex
	valid bool
	calls int
}

func (r *stubRegistry) ValidateSession(ctx context.Context, userID domain.UserID, role domain.UserRole) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.valid
}

func (r *stubRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
