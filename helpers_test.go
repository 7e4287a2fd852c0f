package gatekit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nocturnesec/gatekit/internal"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse"
	testUserID   = "user-1"
	// Any valid base32 string works as an authenticator secret.
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

type testEnv struct {
	engine   *Engine
	redis    *miniredis.Miniredis
	rdb      *redis.Client
	provider *fakeProvider
	sessions *fakeSessions
	sender   *fakeSender
	audits   *memAuditStore
	events   *memEventStore
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Audit.FlushInterval = time.Hour // flushes run on demand in tests
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		redis:    mr,
		rdb:      rdb,
		provider: newFakeProvider(),
		sessions: &fakeSessions{},
		sender:   &fakeSender{},
		audits:   newMemAuditStore(),
		events:   &memEventStore{},
	}
	env.provider.putUser(&User{
		UserID:       testUserID,
		TenantID:     "0",
		Email:        testEmail,
		Status:       AccountActive,
		PasswordHash: "x",
	}, testPassword)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.provider).
		WithSessionService(env.sessions).
		WithOTPSender(env.sender).
		WithAuditStore(env.audits).
		WithSecurityEventStore(env.events).
		WithWarnf(t.Logf).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) enableMFA(userID string) {
	env.provider.mu.Lock()
	defer env.provider.mu.Unlock()
	env.provider.users[userID].MFATOTPEnabled = true
	env.provider.secrets[userID] = []byte(testTOTPSecret)
}

// waitFor polls until the condition holds. The async pipelines expose no
// completion signal, so assertions on their output poll.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeProvider struct {
	mu        sync.Mutex
	users     map[string]*User
	passwords map[string]string
	secrets   map[string][]byte
	backup    map[string]map[string]bool
	findErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users:     make(map[string]*User),
		passwords: make(map[string]string),
		secrets:   make(map[string][]byte),
		backup:    make(map[string]map[string]bool),
	}
}

func (p *fakeProvider) putUser(user *User, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.UserID] = user
	p.passwords[user.UserID] = password
}

func (p *fakeProvider) FindUserForLogin(_ context.Context, tenantID, email string) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return nil, p.findErr
	}
	for _, user := range p.users {
		if user.TenantID == tenantID && strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) GetUserByID(_ context.Context, userID string) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[userID]
	if !ok {
		return nil, nil
	}
	clone := *user
	return &clone, nil
}

func (p *fakeProvider) VerifyAndTrack(_ context.Context, userID, password string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passwords[userID] == password, nil
}

func (p *fakeProvider) GetTOTPSecret(_ context.Context, userID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.secrets[userID], nil
}

func (p *fakeProvider) SetTOTP(_ context.Context, userID string, secret []byte, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if user, ok := p.users[userID]; ok {
		user.MFATOTPEnabled = enabled
	}
	p.secrets[userID] = secret
	return nil
}

func (p *fakeProvider) ConsumeBackupCode(_ context.Context, userID, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	codes, ok := p.backup[userID]
	if !ok || len(codes) == 0 {
		return ErrBackupCodesNotConfigured
	}
	hash := internal.HashCode(code)
	if !codes[hash] {
		return ErrBackupCodeInvalid
	}
	delete(codes, hash)
	return nil
}

func (p *fakeProvider) StoreBackupCodes(_ context.Context, userID string, hashes []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	p.backup[userID] = set
	return nil
}

type fakeSessions struct {
	mu             sync.Mutex
	minted         int
	revokes        []string
	lastRevokedIDs []string
	mintErr        error
	lastOpts       SessionOptions
}

func (s *fakeSessions) CompleteLogin(_ context.Context, user *User, opts SessionOptions) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mintErr != nil {
		return nil, s.mintErr
	}
	s.minted++
	s.lastOpts = opts
	return &Session{
		SessionID:   fmt.Sprintf("sess-%d", s.minted),
		AccessToken: fmt.Sprintf("access-%d", s.minted),
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (s *fakeSessions) Revoke(_ context.Context, userID string, sessionIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokes = append(s.revokes, userID)
	s.lastRevokedIDs = sessionIDs
	return nil
}

func (s *fakeSessions) lastRevoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastRevokedIDs...)
}

func (s *fakeSessions) mintedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minted
}

func (s *fakeSessions) revokeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revokes)
}

type sentOTP struct {
	Destination string
	Purpose     OTPPurpose
	Code        string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentOTP
	sendErr error
}

func (s *fakeSender) Send(_ context.Context, destination string, purpose OTPPurpose, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentOTP{Destination: destination, Purpose: purpose, Code: code})
	return nil
}

func (s *fakeSender) lastSent(t *testing.T) sentOTP {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected a delivered code")
	}
	return s.sent[len(s.sent)-1]
}

// memAuditStore keeps persisted entries keyed by LogID so repeated flushes of
// the same batch stay idempotent, mirroring the PostgreSQL store.
type memAuditStore struct {
	mu      sync.Mutex
	entries map[string]AuditEntry
	order   []string
	inserts int
	failErr error
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{entries: make(map[string]AuditEntry)}
}

func (s *memAuditStore) InsertAuditBatch(_ context.Context, batch []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.inserts++
	for _, entry := range batch {
		if _, ok := s.entries[entry.LogID]; ok {
			continue
		}
		s.entries[entry.LogID] = entry
		s.order = append(s.order, entry.LogID)
	}
	return nil
}

func (s *memAuditStore) all() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

func (s *memAuditStore) byType(eventType string) []AuditEntry {
	var out []AuditEntry
	for _, entry := range s.all() {
		if entry.Type == eventType {
			out = append(out, entry)
		}
	}
	return out
}

type memEventStore struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (s *memEventStore) InsertSecurityEvent(_ context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.ID == event.ID {
			return nil
		}
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *memEventStore) ResolveSecurityEvent(_ context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID && !s.events[i].Resolved {
			s.events[i].Resolved = true
			s.events[i].ResolvedBy = resolvedBy
			at := resolvedAt
			s.events[i].ResolvedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *memEventStore) ListSecurityEvents(_ context.Context, filter SecurityEventFilter) ([]SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SecurityEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && event.Severity != filter.Severity {
			continue
		}
		if filter.Unresolved && event.Resolved {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memEventStore) byType(eventType EventType) []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SecurityEvent
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
