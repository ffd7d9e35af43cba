package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/mailer"
)

// memStore is an in-memory stand-in for database.Store and
// database.CredentialStore with the same error contract.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*database.User
	creds     map[int64]database.Credential
	targets   map[int64]*database.Target
	assigned  map[[2]int64]bool
	logs      []database.DeliveryLog
	requests  map[int64]*database.QuotaRequest
	nextLog   int64
	nextReq   int64
	now       func() time.Time
	insertErr error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		users:    map[int64]*database.User{},
		creds:    map[int64]database.Credential{},
		targets:  map[int64]*database.Target{},
		assigned: map[[2]int64]bool{},
		requests: map[int64]*database.QuotaRequest{},
		now:      now,
	}
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (m *memStore) addUser(u database.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memStore) addTarget(t database.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID] = &t
}

func (m *memStore) target(id int64) database.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.targets[id]
}

func (m *memStore) user(id int64) database.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memStore) allLogs() []database.DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.DeliveryLog(nil), m.logs...)
}

// users

func (m *memStore) GetUser(_ context.Context, id int64) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memStore) ResetQuotaIfStale(ctx context.Context, id int64, today time.Time) (*database.User, error) {
	m.mu.Lock()
	if u, ok := m.users[id]; ok && u.LastResetDate.Format("2006-01-02") != today.Format("2006-01-02") {
		u.UsedToday = 0
		u.LastResetDate = day(today)
	}
	m.mu.Unlock()
	return m.GetUser(ctx, id)
}

func (m *memStore) SetDailyQuota(ctx context.Context, id int64, quota int) (*database.User, error) {
	m.mu.Lock()
	u, ok := m.users[id]
	if ok {
		u.DailyQuota = quota
	}
	m.mu.Unlock()
	if !ok {
		return nil, database.ErrNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *memStore) ConsumeQuota(ctx context.Context, id int64, n int) (*database.User, error) {
	m.mu.Lock()
	u, ok := m.users[id]
	if ok {
		u.UsedToday = min(u.UsedToday+n, u.DailyQuota)
	}
	m.mu.Unlock()
	if !ok {
		return nil, database.ErrNotFound
	}
	return m.GetUser(ctx, id)
}

// credentials

func (m *memStore) UpsertCredential(_ context.Context, cred database.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.UserID] = cred
	return nil
}

func (m *memStore) GetCredential(_ context.Context, userID int64) (*database.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &c, nil
}

// targets and assignments

func (m *memStore) GetTarget(_ context.Context, id int64) (*database.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memStore) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return database.ErrNotFound
	}
	t.SentCount++
	t.Status = database.TargetStatusSent
	return nil
}

func (m *memStore) IsAssigned(_ context.Context, userID, targetID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assigned[[2]int64{userID, targetID}], nil
}

func (m *memStore) ListTargets(_ context.Context, userID *int64) ([]database.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.Target{}
	for _, t := range m.targets {
		if userID == nil || m.assigned[[2]int64{*userID, t.ID}] {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) Assign(_ context.Context, userID, targetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[[2]int64{userID, targetID}] = true
	return nil
}

func (m *memStore) Unassign(_ context.Context, userID, targetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{userID, targetID}
	if !m.assigned[key] {
		return database.ErrNotFound
	}
	delete(m.assigned, key)
	return nil
}

// delivery logs

func (m *memStore) InsertLog(_ context.Context, l *database.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextLog++
	l.ID = m.nextLog
	l.SentAt = m.now()
	stored := *l
	stored.AttachmentsData = append([]database.Attachment(nil), l.AttachmentsData...)
	m.logs = append(m.logs, stored)
	return nil
}

func (m *memStore) GetLog(_ context.Context, id int64) (*database.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ID == id {
			c := l
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) ListLogs(_ context.Context, f database.LogFilter, _ string) ([]database.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.DeliveryLog{}
	for i := len(m.logs) - 1; i >= 0; i-- {
		if f.UserID == nil || m.logs[i].UserID == *f.UserID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

// quota requests

func (m *memStore) CreateQuotaRequest(_ context.Context, userID int64, requested int, reason string) (*database.QuotaRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.UserID == userID && r.Status == database.RequestPending {
			return nil, database.ErrDuplicate
		}
	}
	m.nextReq++
	r := &database.QuotaRequest{
		ID:             m.nextReq,
		UserID:         userID,
		RequestedQuota: requested,
		Reason:         reason,
		Status:         database.RequestPending,
		CreatedAt:      m.now(),
	}
	m.requests[r.ID] = r
	c := *r
	return &c, nil
}

func (m *memStore) GetQuotaRequest(_ context.Context, id int64) (*database.QuotaRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) ListQuotaRequests(_ context.Context, userID *int64) ([]database.QuotaRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.QuotaRequest{}
	for _, r := range m.requests {
		if userID == nil || r.UserID == *userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ResolveQuotaRequest(_ context.Context, id int64, res database.Resolution) (*database.QuotaRequest, *database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, nil, database.ErrNotFound
	}
	if r.Status != database.RequestPending {
		return nil, nil, database.ErrNotPending
	}
	u, ok := m.users[r.UserID]
	if !ok {
		return nil, nil, database.ErrNotFound
	}
	responded := res.RespondedAt
	minutes := res.ResponseMinutes
	r.Status = res.Status
	r.AdminNote = res.AdminNote
	r.RespondedAt = &responded
	r.ResponseMinutes = &minutes

	if res.Status == database.RequestApproved {
		if u.LastResetDate.Format("2006-01-02") != res.Today.Format("2006-01-02") {
			u.UsedToday = 0
			u.LastResetDate = day(res.Today)
		}
		u.DailyQuota += r.RequestedQuota
		u.UsedToday = max(0, u.UsedToday-r.RequestedQuota)
	}
	rc, uc := *r, *u
	return &rc, &uc, nil
}

// fakeTransport records sends and fails the recipients listed in fail.
type fakeTransport struct {
	mu     sync.Mutex
	fail   map[string]error
	sent   []sentMessage
	report mailer.Report
}

type sentMessage struct {
	From mailer.Account
	Msg  mailer.Message
}

func (f *fakeTransport) Send(_ context.Context, from mailer.Account, msg mailer.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{From: from, Msg: msg})
	if err := f.fail[msg.To]; err != nil {
		return "", err
	}
	return fmt.Sprintf("msg-%d@example.org", len(f.sent)), nil
}

func (f *fakeTransport) Verify(context.Context, mailer.Account) mailer.Report {
	return f.report
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []database.DeliveryLog
}

func (p *recordingPublisher) Publish(entry database.DeliveryLog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

func (p *recordingPublisher) published() []database.DeliveryLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]database.DeliveryLog(nil), p.entries...)
}

// fixture wires every service against one memStore.
type fixture struct {
	store       *memStore
	transport   *fakeTransport
	publisher   *recordingPublisher
	credentials *CredentialService
	assignments *AssignmentService
	quota       *QuotaService
	dispatch    *DispatchService
	clock       time.Time
}

func newFixture(opts DispatchOptions) *fixture {
	f := &fixture{
		transport: &fakeTransport{fail: map[string]error{}},
		publisher: &recordingPublisher{},
		clock:     time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.store = newMemStore(now)

	logger := zap.NewNop().Sugar()
	f.credentials = NewCredentialService(f.store, f.transport, logger)
	f.assignments = NewAssignmentService(f.store, logger)
	f.quota = NewQuotaService(f.store, time.UTC, logger)
	f.quota.now = now
	f.dispatch = NewDispatchService(f.store, f.credentials, f.assignments, f.quota, f.transport, f.publisher, opts, logger)
	f.dispatch.now = now
	return f
}

func strPtr(s string) *string { return &s }
