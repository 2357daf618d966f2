package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/cache"
	"github.com/ekaya-inc/ekaya-monitor/pkg/events"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
	"github.com/ekaya-inc/ekaya-monitor/pkg/repositories"
)

var (
	_ datasource.Adapter           = (*mockAdapter)(nil)
	_ repositories.QueryRepository = (*mockQueryRepository)(nil)
	_ repositories.CheckRepository = (*mockCheckRepository)(nil)
	_ repositories.AuditRepository = (*mockAuditRepository)(nil)
	_ events.Sink                  = (*mockSink)(nil)
	_ notify.Delivery              = (*mockDelivery)(nil)
)

// mockAdapter is a scripted datasource.Adapter. Each Run returns the next
// scripted result and the last one repeats.
type mockAdapter struct {
	mu         sync.Mutex
	script     []*datasource.Result
	runs       int
	statements []string
	reconnects int
	cancelled  []uuid.UUID
	// gate blocks every Run until closed when non-nil.
	gate chan struct{}
}

func newMockAdapter(script ...*datasource.Result) *mockAdapter {
	return &mockAdapter{script: script}
}

func (a *mockAdapter) Run(_ context.Context, stmt string, _ datasource.RunOptions) *datasource.Result {
	a.mu.Lock()
	a.runs++
	a.statements = append(a.statements, stmt)
	result := datasource.NewResult(nil, nil, time.Millisecond)
	if n := len(a.script); n > 0 {
		result = a.script[min(a.runs, n)-1]
	}
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return result.Clone()
}

func (a *mockAdapter) Cancel(_ context.Context, handle uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, handle)
	return nil
}

func (a *mockAdapter) Schema(context.Context) ([]datasource.TableMeta, error) { return nil, nil }
func (a *mockAdapter) Explain(context.Context, string) (string, error)        { return "", nil }
func (a *mockAdapter) QuoteIdentifier(name string) string                     { return `"` + name + `"` }
func (a *mockAdapter) ClassifyError(err error) datasource.ErrorKind {
	return datasource.ClassifyMessage(err)
}
func (a *mockAdapter) Dialect() datasource.Dialect { return datasource.ANSIDialect }
func (a *mockAdapter) Close() error                { return nil }

func (a *mockAdapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, datasource.StandardLiteralStyle)
}

func (a *mockAdapter) Reconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconnects++
	return nil
}

func (a *mockAdapter) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

func (a *mockAdapter) reconnectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reconnects
}

func rowsResult(rows ...[]any) *datasource.Result {
	return datasource.NewResult([]datasource.ColumnMeta{{Name: "value"}}, rows, 5*time.Millisecond)
}

func timeoutResult() *datasource.Result {
	return datasource.NewTimeoutResult(time.Second)
}

func connectionLostResult() *datasource.Result {
	return datasource.NewErrorResult(datasource.ErrorKindConnection,
		errors.New("server closed the connection unexpectedly"), 0)
}

// recordingSleep replaces the retry backoff and records each requested delay.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *recordingSleep) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// newTestCache returns an enabled in-memory result cache on a mock clock.
func newTestCache(t *testing.T) (*cache.ResultCache, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	rc := cache.New(cache.NewMemoryStore(time.Hour), cache.Options{
		Enabled: true,
		Clock:   clock,
	}, zap.NewNop())
	return rc, clock
}

// testSources wraps adapters as data sources keyed by id.
func testSources(adapters map[string]*mockAdapter) *datasource.Set {
	sources := make([]*datasource.DataSource, 0, len(adapters))
	for id, a := range adapters {
		sources = append(sources, datasource.New(id, "mock", a, 0, ""))
	}
	return datasource.NewSetOf(sources...)
}

// newTestController wires a run controller over adapters keyed by data source id.
func newTestController(t *testing.T, adapters map[string]*mockAdapter) (RunController, *recordingSleep) {
	t.Helper()
	return newControllerOver(t, testSources(adapters))
}

func newControllerOver(t *testing.T, sources *datasource.Set) (RunController, *recordingSleep) {
	t.Helper()
	rc, _ := newTestCache(t)
	sleeper := &recordingSleep{}
	controller := NewRunController(sources, rc, RunControllerConfig{
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Second,
		CacheTTL:     time.Hour,
	}, zap.NewNop(), WithSleep(sleeper.sleep))
	return controller, sleeper
}

// mockQueryRepository is an in-memory QueryRepository.
type mockQueryRepository struct {
	mu      sync.Mutex
	queries map[uuid.UUID]*models.Query
	audited map[uuid.UUID]time.Time
	// panicOn makes Get panic for the given query id.
	panicOn uuid.UUID
}

func newMockQueryRepository() *mockQueryRepository {
	return &mockQueryRepository{
		queries: make(map[uuid.UUID]*models.Query),
		audited: make(map[uuid.UUID]time.Time),
	}
}

func (m *mockQueryRepository) add(name, statement, dataSourceID string) *models.Query {
	q := &models.Query{
		ID:           uuid.New(),
		Name:         name,
		Statement:    statement,
		DataSourceID: dataSourceID,
		Status:       models.QueryStatusActive,
	}
	_ = m.Create(context.Background(), q)
	return q
}

func (m *mockQueryRepository) Create(_ context.Context, query *models.Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if query.ID == uuid.Nil {
		query.ID = uuid.New()
	}
	m.queries[query.ID] = query
	return nil
}

func (m *mockQueryRepository) Get(_ context.Context, id uuid.UUID) (*models.Query, error) {
	if m.panicOn != uuid.Nil && id == m.panicOn {
		panic("query store exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queries[id]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", id, apperrors.ErrNotFound)
	}
	c := *q
	return &c, nil
}

func (m *mockQueryRepository) ListActiveWithoutAuditsSince(_ context.Context, since time.Time) ([]*models.Query, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Query
	for id, q := range m.queries {
		if q.Status != models.QueryStatusActive {
			continue
		}
		if at, ok := m.audited[id]; ok && at.After(since) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *mockQueryRepository) Archive(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if q, ok := m.queries[id]; ok && q.Status == models.QueryStatusActive {
			q.Status = models.QueryStatusArchived
			n++
		}
	}
	return n, nil
}

// mockCheckRepository is an in-memory CheckRepository with the same
// disabled-row protection as the PostgreSQL one.
type mockCheckRepository struct {
	mu      sync.Mutex
	checks  map[uuid.UUID]*models.Check
	updates int
	// beforeUpdate runs ahead of every UpdateRunState, outside the lock.
	beforeUpdate func(id uuid.UUID)
}

func newMockCheckRepository() *mockCheckRepository {
	return &mockCheckRepository{checks: make(map[uuid.UUID]*models.Check)}
}

func (m *mockCheckRepository) add(q *models.Query, schedule string, state models.CheckState) *models.Check {
	c := &models.Check{
		ID:        uuid.New(),
		QueryID:   q.ID,
		QueryName: q.Name,
		State:     state,
		Schedule:  schedule,
		CheckType: models.CheckTypeBadData,
		Emails:    []string{"ops@example.com"},
	}
	_ = m.Create(context.Background(), c)
	return c
}

func (m *mockCheckRepository) Create(_ context.Context, check *models.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	if check.State == "" {
		check.State = models.CheckStateNew
	}
	c := *check
	m.checks[check.ID] = &c
	return nil
}

func (m *mockCheckRepository) Get(_ context.Context, id uuid.UUID) (*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, fmt.Errorf("check %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCheckRepository) List(_ context.Context, schedule string) ([]*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Check
	for _, c := range m.checks {
		if schedule == "" || c.Schedule == schedule {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *mockCheckRepository) ListByStates(_ context.Context, states ...models.CheckState) ([]*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[models.CheckState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var out []*models.Check
	for _, c := range m.checks {
		if want[c.State] {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockCheckRepository) UpdateRunState(_ context.Context, id uuid.UUID, state models.CheckState, message string, lastRunAt time.Time) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checks[id]
	if !ok {
		return fmt.Errorf("check %s: %w", id, apperrors.ErrNotFound)
	}
	if c.State == models.CheckStateDisabled {
		return fmt.Errorf("check %s: %w", id, apperrors.ErrCheckDisabled)
	}
	c.State = state
	c.Message = message
	c.LastRunAt = &lastRunAt
	m.updates++
	return nil
}

func (m *mockCheckRepository) state(id uuid.UUID) models.CheckState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks[id].State
}

func (m *mockCheckRepository) message(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks[id].Message
}

func (m *mockCheckRepository) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, id)
}

func (m *mockCheckRepository) setState(id uuid.UUID, state models.CheckState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[id].State = state
}

// mockAuditRepository records audits in memory.
type mockAuditRepository struct {
	mu      sync.Mutex
	entries []*models.Audit
	err     error
}

func (m *mockAuditRepository) Create(_ context.Context, a *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.entries = append(m.entries, a)
	return nil
}

func (m *mockAuditRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// mockSink collects published events.
type mockSink struct {
	mu     sync.Mutex
	events []models.CheckRunEvent
}

func (s *mockSink) Publish(_ context.Context, e models.CheckRunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// mockDelivery records digests by recipient.
type mockDelivery struct {
	mu     sync.Mutex
	emails map[string][]models.Check
	chats  map[string][]models.Check
}

func newMockDelivery() *mockDelivery {
	return &mockDelivery{
		emails: make(map[string][]models.Check),
		chats:  make(map[string][]models.Check),
	}
}

func (d *mockDelivery) SendFailingChecksEmail(_ context.Context, recipient string, checks []models.Check) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails[recipient] = append(d.emails[recipient], checks...)
	return nil
}

func (d *mockDelivery) SendFailingChecksChat(_ context.Context, channel string, checks []models.Check) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[channel] = append(d.chats[channel], checks...)
	return nil
}

func (d *mockDelivery) emailed(recipient string) []models.Check {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emails[recipient]
}
