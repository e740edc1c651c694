package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/events"
	"github.com/timmy/listingsync/internal/repository"
)

type memLogStore struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (m *memLogStore) Create(_ context.Context, e *domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memLogStore) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Message)
	}
	return out
}

func (m *memLogStore) Levels() map[domain.LogLevel]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.LogLevel]int{}
	for _, e := range m.entries {
		out[e.Level]++
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingPublisher) Progress() []events.ProgressData {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.ProgressData
	for _, e := range r.events {
		if p, ok := e.Data.(events.ProgressData); ok {
			out = append(out, p)
		}
	}
	return out
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings(kv map[string]string) *memSettings {
	if kv == nil {
		kv = map[string]string{}
	}
	return &memSettings{values: kv}
}

func (m *memSettings) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// memAutomations mirrors the conditional semantics of the gorm repository.
type memAutomations struct {
	mu     sync.Mutex
	nextID uint
	items  map[uint]*domain.Automation
	steps  map[uint][]domain.Step
	// failUpdateAt makes UpdateStep fail when entering this step.
	failUpdateAt domain.Step
}

func newMemAutomations() *memAutomations {
	return &memAutomations{items: map[uint]*domain.Automation{}, steps: map[uint][]domain.Step{}}
}

func (m *memAutomations) Create(_ context.Context, a *domain.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	if a.Status == "" {
		a.Status = domain.AutomationStatusPending
	}
	if a.Attempt == 0 {
		a.Attempt = 1
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAutomations) GetByID(_ context.Context, id uint) (*domain.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memAutomations) MarkProcessing(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status == domain.AutomationStatusProcessing || a.Status == domain.AutomationStatusCompleted {
		return repository.ErrStaleAutomation
	}
	a.Status = domain.AutomationStatusProcessing
	a.Progress = 0
	a.CurrentStep = ""
	a.ErrorMessage = ""
	a.FailureKind = domain.FailureNone
	a.StartedAt = &at
	return nil
}

func (m *memAutomations) UpdateStep(_ context.Context, id uint, step domain.Step, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != domain.AutomationStatusProcessing {
		return repository.ErrStaleAutomation
	}
	if m.failUpdateAt != "" && step == m.failUpdateAt {
		return errors.New("disk full")
	}
	a.CurrentStep = step
	a.Progress = progress
	m.steps[id] = append(m.steps[id], step)
	return nil
}

func (m *memAutomations) Complete(_ context.Context, id uint, result domain.JSONMap, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != domain.AutomationStatusProcessing {
		return repository.ErrStaleAutomation
	}
	a.Status = domain.AutomationStatusCompleted
	a.Progress = 100
	a.ResultData = result
	a.CompletedAt = &at
	return nil
}

func (m *memAutomations) Fail(_ context.Context, id uint, kind domain.FailureKind, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != domain.AutomationStatusProcessing {
		return repository.ErrStaleAutomation
	}
	a.Status = domain.AutomationStatusFailed
	a.FailureKind = kind
	a.ErrorMessage = msg
	return nil
}

func (m *memAutomations) Stop(_ context.Context, id uint, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status.IsTerminal() {
		return repository.ErrStaleAutomation
	}
	a.Status = domain.AutomationStatusStopped
	a.FailureKind = domain.FailureStopped
	a.ErrorMessage = msg
	return nil
}

func (m *memAutomations) Steps(id uint) []domain.Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Step(nil), m.steps[id]...)
}

// gatedAutomations holds one call of method until release is closed. The
// first skip calls go straight through.
type gatedAutomations struct {
	*memAutomations
	method  string
	skip    int
	entered chan struct{}
	release chan struct{}

	gateMu sync.Mutex
	calls  int
}

func newGatedAutomations(inner *memAutomations, method string, skip int) *gatedAutomations {
	return &gatedAutomations{
		memAutomations: inner,
		method:         method,
		skip:           skip,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (g *gatedAutomations) wait(method string) {
	if method != g.method {
		return
	}
	g.gateMu.Lock()
	g.calls++
	hold := g.calls == g.skip+1
	g.gateMu.Unlock()
	if hold {
		close(g.entered)
		<-g.release
	}
}

func (g *gatedAutomations) GetByID(ctx context.Context, id uint) (*domain.Automation, error) {
	g.wait("GetByID")
	return g.memAutomations.GetByID(ctx, id)
}

func (g *gatedAutomations) MarkProcessing(ctx context.Context, id uint, at time.Time) error {
	g.wait("MarkProcessing")
	return g.memAutomations.MarkProcessing(ctx, id, at)
}

type memCodes struct {
	mu    sync.Mutex
	codes []domain.ExternalCode
}

func (m *memCodes) ListAvailable(_ context.Context, brokerID uint) ([]domain.ExternalCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExternalCode
	for _, c := range m.codes {
		if c.BrokerID == brokerID && !c.IsUsed && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCodes) Claim(_ context.Context, codeID, automationID uint, sourceCode string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.codes {
		c := &m.codes[i]
		if c.ID != codeID {
			continue
		}
		if c.IsUsed {
			return repository.ErrCodeAlreadyClaimed
		}
		c.IsUsed = true
		id := automationID
		c.AutomationID = &id
		c.CorrelatedSourceCode = sourceCode
		c.UsedAt = &at
		return nil
	}
	return errors.New("record not found")
}

func (m *memCodes) FindClaimed(_ context.Context, automationID uint) (*domain.ExternalCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.IsUsed && c.AutomationID != nil && *c.AutomationID == automationID {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCodes) Reassign(_ context.Context, codeID, fromAutomationID, toAutomationID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.codes {
		c := &m.codes[i]
		if c.ID != codeID {
			continue
		}
		if !c.IsUsed || c.AutomationID == nil || *c.AutomationID != fromAutomationID {
			return repository.ErrCodeAlreadyClaimed
		}
		id := toAutomationID
		c.AutomationID = &id
		c.UsedAt = &at
		return nil
	}
	return errors.New("record not found")
}

func (m *memCodes) Get(code string) domain.ExternalCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Code == code {
			return c
		}
	}
	return domain.ExternalCode{}
}

// scriptedProber returns a fixed result per system and records calls.
type scriptedProber struct {
	mu      sync.Mutex
	results map[domain.System]domain.ConnectivityResult
	calls   []domain.System
}

func (p *scriptedProber) Test(_ context.Context, system domain.System, _ *domain.Credentials) domain.ConnectivityResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, system)
	if r, ok := p.results[system]; ok {
		return r
	}
	return domain.ConnectivityResult{Success: true, System: system, Outcome: domain.OutcomeAuthSuccess}
}

type fakeSource struct {
	listing *domain.Listing
	err     error
	// block, when set, is waited on before returning.
	block chan struct{}
}

func (f *fakeSource) Extract(ctx context.Context, _ browser.Page, _ domain.Credentials, code string) (*domain.Listing, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	l := *f.listing
	l.SourceCode = code
	return &l, nil
}

type fakeTarget struct {
	mu        sync.Mutex
	published []string
	err       error
	// claimedBefore reports whether the code was already marked used when
	// Publish was called.
	codes         *memCodes
	claimedBefore bool
}

func (f *fakeTarget) Publish(_ context.Context, _ browser.Page, _ domain.Credentials, listing *domain.Listing, _ []domain.MediaRef, code string) (*domain.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes != nil {
		f.claimedBefore = f.codes.Get(code).IsUsed
	}
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, listing.SourceCode+"->"+code)
	return &domain.PublishResult{Code: code, ListingURL: "https://www.target.example.com/anuncios/" + code}, nil
}

type fakeMedia struct {
	mu         sync.Mutex
	calls      int
	namespaces []string
}

func (f *fakeMedia) FetchAll(_ context.Context, namespace string, urls []string) []domain.MediaRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.namespaces = append(f.namespaces, namespace)
	refs := make([]domain.MediaRef, len(urls))
	for i, u := range urls {
		refs[i] = domain.MediaRef{SourceURL: u, Location: u}
	}
	return refs
}
