package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/browser/browsertest"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/portal"
)

type automationHarness struct {
	svc    *AutomationService
	autos  *memAutomations
	codes  *memCodes
	prober *scriptedProber
	source *fakeSource
	target *fakeTarget
	media  *fakeMedia
	logs   *memLogStore
	pub    *recordingPublisher
	opener *browsertest.Opener
}

func defaultSettings() map[string]string {
	return map[string]string{
		domain.SettingSourceUsername: "corretor@example.com",
		domain.SettingSourcePassword: "s3cret",
		domain.SettingTargetUsername: "corretor@example.com",
		domain.SettingTargetPassword: "s3cret",
		domain.SettingActionDelayMs:  "0",
	}
}

func newAutomationHarness(t *testing.T, settings map[string]string) *automationHarness {
	t.Helper()
	h := &automationHarness{
		autos: newMemAutomations(),
		codes: &memCodes{codes: []domain.ExternalCode{
			{ID: 1, Code: "TGT-001", BrokerID: 1, IsActive: true},
			{ID: 2, Code: "TGT-002", BrokerID: 1, IsActive: true},
		}},
		prober: &scriptedProber{results: map[domain.System]domain.ConnectivityResult{}},
		source: &fakeSource{listing: &domain.Listing{
			Title:     "Apartamento 3 quartos",
			Price:     "450000",
			PhotoURLs: []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
		}},
		media:  &fakeMedia{},
		logs:   &memLogStore{},
		pub:    &recordingPublisher{},
		opener: &browsertest.Opener{},
	}
	h.target = &fakeTarget{codes: h.codes}

	h.svc = NewAutomationService(AutomationDeps{
		Automations: h.autos,
		Codes:       h.codes,
		Settings:    NewRuntimeSettings(newMemSettings(settings), config.AutomationConfig{MaxAttempts: 3}),
		Prober:      h.prober,
		Pages:       h.opener,
		Source:      h.source,
		Target:      h.target,
		Media:       h.media,
		Events:      h.pub,
		Activity:    NewActivityLog(h.logs, h.pub),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *automationHarness) create(t *testing.T, sourceCode string) uint {
	t.Helper()
	a := &domain.Automation{BrokerID: 1, SourceCode: sourceCode}
	require.NoError(t, h.autos.Create(context.Background(), a))
	return a.ID
}

func (h *automationHarness) get(t *testing.T, id uint) *domain.Automation {
	t.Helper()
	a, err := h.autos.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestAutomation_HappyPath(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	id := h.create(t, "SRC-123")

	require.NoError(t, h.svc.Run(context.Background(), id))

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	assert.Equal(t, domain.Steps, h.autos.Steps(id))
	assert.Equal(t, "TGT-001", a.ResultData["target_code"])
	assert.Equal(t, "SRC-123", a.ResultData["source_code"])

	code := h.codes.Get("TGT-001")
	assert.True(t, code.IsUsed)
	require.NotNil(t, code.AutomationID)
	assert.Equal(t, id, *code.AutomationID)
	assert.Equal(t, "SRC-123", code.CorrelatedSourceCode)
	assert.True(t, h.target.claimedBefore, "code must be claimed before publishing")
	assert.Equal(t, []string{"SRC-123->TGT-001"}, h.target.published)
	assert.Equal(t, 1, h.media.calls)

	opened, closed := h.opener.Counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, opened, closed)

	last := 0
	progress := h.pub.Progress()
	require.Len(t, progress, len(domain.Steps))
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.Progress, last)
		last = p.Progress
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, 1, h.logs.Levels()[domain.LogLevelSuccess])
}

func TestAutomation_SourceAuthFailureNeverTouchesTarget(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.prober.results[domain.SystemSource] = domain.ConnectivityResult{
		System:  domain.SystemSource,
		Outcome: domain.OutcomeAuthFailure,
		Reason:  "incorrect password",
		Message: "Invalid credentials for the source system: incorrect password",
	}
	id := h.create(t, "SRC-123")

	err := h.svc.Run(context.Background(), id)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, domain.FailureAuth, stepErr.Kind)

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusFailed, a.Status)
	assert.Equal(t, domain.FailureAuth, a.FailureKind)
	assert.Contains(t, a.ErrorMessage, "Invalid credentials")
	assert.Equal(t, []domain.System{domain.SystemSource}, h.prober.calls)
	assert.Empty(t, h.target.published)
	assert.False(t, h.codes.Get("TGT-001").IsUsed)
	assert.Equal(t, []domain.Step{domain.StepConnectingSource}, h.autos.Steps(id))
}

func TestAutomation_MissingCredentials(t *testing.T) {
	settings := defaultSettings()
	delete(settings, domain.SettingTargetPassword)
	h := newAutomationHarness(t, settings)
	id := h.create(t, "SRC-123")

	err := h.svc.Run(context.Background(), id)
	require.ErrorIs(t, err, ErrMissingCredentials)

	a := h.get(t, id)
	assert.Equal(t, domain.FailurePrecondition, a.FailureKind)
	assert.Equal(t, domain.StepConnectingTarget, a.CurrentStep)
	assert.Contains(t, a.ErrorMessage, "target system")
	assert.False(t, h.codes.Get("TGT-001").IsUsed)
}

func TestAutomation_NoAvailableCode(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	other := uint(99)
	h.codes.codes = []domain.ExternalCode{
		{ID: 1, Code: "OTHER-001", BrokerID: 2, IsActive: true},
		{ID: 2, Code: "TGT-001", BrokerID: 1, IsActive: false},
		{ID: 3, Code: "TGT-002", BrokerID: 1, IsActive: true, IsUsed: true, AutomationID: &other, CorrelatedSourceCode: "SRC-OLD"},
	}
	seeded := append([]domain.ExternalCode(nil), h.codes.codes...)
	id := h.create(t, "SRC-123")

	err := h.svc.Run(context.Background(), id)
	require.ErrorIs(t, err, ErrNoAvailableCode)

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusFailed, a.Status)
	assert.Equal(t, domain.FailurePrecondition, a.FailureKind)
	assert.Contains(t, a.ErrorMessage, "No available code")
	assert.Empty(t, h.target.published)
	assert.Equal(t, seeded, h.codes.codes, "codes of other brokers, inactive and used codes stay untouched")

	// Only the extraction page was opened; the publish form never was.
	opened, closed := h.opener.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, opened, closed)
}

func TestAutomation_RequestedTargetCode(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	a := &domain.Automation{BrokerID: 1, SourceCode: "SRC-9", TargetCode: "TGT-002"}
	require.NoError(t, h.autos.Create(context.Background(), a))

	require.NoError(t, h.svc.Run(context.Background(), a.ID))
	assert.True(t, h.codes.Get("TGT-002").IsUsed)
	assert.False(t, h.codes.Get("TGT-001").IsUsed)
}

func TestAutomation_StartIsIdempotentWhileRunning(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.source.block = make(chan struct{})
	id := h.create(t, "SRC-123")

	started, err := h.svc.Start(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = h.svc.Start(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, []uint{id}, h.svc.ActiveIDs())

	close(h.source.block)
	h.svc.Wait()

	assert.Equal(t, domain.AutomationStatusCompleted, h.get(t, id).Status)
	assert.Empty(t, h.svc.ActiveIDs())
	assert.Len(t, h.target.published, 1)
}

func TestAutomation_ConcurrentRunsClaimDistinctCodes(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.codes.codes = h.codes.codes[:1]

	ids := []uint{h.create(t, "SRC-1"), h.create(t, "SRC-2")}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			errs[i] = h.svc.Run(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	completed, noCode := 0, 0
	for i, id := range ids {
		switch h.get(t, id).Status {
		case domain.AutomationStatusCompleted:
			completed++
		case domain.AutomationStatusFailed:
			assert.ErrorIs(t, errs[i], ErrNoAvailableCode)
			noCode++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, noCode)
	assert.Len(t, h.target.published, 1)
}

func TestAutomation_StopDuringRun(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.source.block = make(chan struct{})
	id := h.create(t, "SRC-123")

	_, err := h.svc.Start(context.Background(), id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(h.autos.Steps(id)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Stop(context.Background(), id))
	close(h.source.block)
	h.svc.Wait()

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusStopped, a.Status)
	assert.Equal(t, domain.FailureStopped, a.FailureKind)
	assert.Equal(t, domain.StepExtractingData, a.CurrentStep)
	assert.Empty(t, h.target.published)
	assert.False(t, h.codes.Get("TGT-001").IsUsed)

	assert.ErrorIs(t, h.svc.Stop(context.Background(), id), ErrNotStoppable)
}

func TestAutomation_StopBeforeProcessing(t *testing.T) {
	cases := []struct {
		name   string
		method string
		skip   int
		async  bool
	}{
		// Start reads the automation once before handing it to the worker.
		{name: "start during lookup", method: "GetByID", skip: 1, async: true},
		{name: "run during lookup", method: "GetByID", skip: 0},
		{name: "start during mark processing", method: "MarkProcessing", skip: 0, async: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAutomationHarness(t, defaultSettings())
			id := h.create(t, "SRC-123")
			gate := newGatedAutomations(h.autos, tc.method, tc.skip)
			h.svc.automations = gate

			runErr := make(chan error, 1)
			if tc.async {
				started, err := h.svc.Start(context.Background(), id)
				require.NoError(t, err)
				require.True(t, started)
			} else {
				go func() { runErr <- h.svc.Run(context.Background(), id) }()
			}

			select {
			case <-gate.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("workflow never reached the store")
			}
			require.NoError(t, h.svc.Stop(context.Background(), id))
			close(gate.release)

			if tc.async {
				h.svc.Wait()
			} else {
				assert.ErrorIs(t, <-runErr, errStopped)
			}

			a := h.get(t, id)
			assert.Equal(t, domain.AutomationStatusStopped, a.Status)
			assert.Equal(t, domain.FailureStopped, a.FailureKind)
			assert.Empty(t, h.svc.ActiveIDs())
			assert.Empty(t, h.autos.Steps(id))
			assert.Empty(t, h.target.published)
			assert.False(t, h.codes.Get("TGT-001").IsUsed)
		})
	}
}

func TestAutomation_RetryCreatesNewAttempt(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.prober.results[domain.SystemTarget] = domain.ConnectivityResult{
		System:  domain.SystemTarget,
		Outcome: domain.OutcomeUnreachable,
		Message: "The target system is unreachable",
	}
	id := h.create(t, "SRC-123")
	require.Error(t, h.svc.Run(context.Background(), id))
	assert.Equal(t, domain.FailureUnreachable, h.get(t, id).FailureKind)

	delete(h.prober.results, domain.SystemTarget)
	next, err := h.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	h.svc.Wait()

	require.NotNil(t, next.RetryOfID)
	assert.Equal(t, id, *next.RetryOfID)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, domain.AutomationStatusCompleted, h.get(t, next.ID).Status)
	assert.Equal(t, domain.AutomationStatusFailed, h.get(t, id).Status)

	_, err = h.svc.Retry(context.Background(), next.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestAutomation_RerunReusesClaimedCode(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.target.err = domain.ErrPublishRejected
	id := h.create(t, "SRC-123")
	require.Error(t, h.svc.Run(context.Background(), id))
	require.True(t, h.codes.Get("TGT-001").IsUsed)

	h.target.err = nil
	require.NoError(t, h.svc.Run(context.Background(), id))

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusCompleted, a.Status)
	assert.Equal(t, "TGT-001", a.ResultData["target_code"])
	assert.False(t, h.codes.Get("TGT-002").IsUsed, "a rerun must not consume a second code")
}

func TestAutomation_RetryReusesEarlierAttemptCode(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.target.err = domain.ErrPublishRejected
	id := h.create(t, "SRC-123")
	require.Error(t, h.svc.Run(context.Background(), id))

	// The second attempt fails before publishing, so the code stays with
	// the first attempt.
	h.target.err = nil
	h.prober.results[domain.SystemSource] = domain.ConnectivityResult{
		System:  domain.SystemSource,
		Outcome: domain.OutcomeUnreachable,
		Message: "The source system is unreachable",
	}
	second, err := h.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	h.svc.Wait()
	require.Equal(t, domain.AutomationStatusFailed, h.get(t, second.ID).Status)

	delete(h.prober.results, domain.SystemSource)
	third, err := h.svc.Retry(context.Background(), second.ID)
	require.NoError(t, err)
	h.svc.Wait()

	assert.Equal(t, domain.AutomationStatusCompleted, h.get(t, third.ID).Status)
	code := h.codes.Get("TGT-001")
	require.NotNil(t, code.AutomationID)
	assert.Equal(t, third.ID, *code.AutomationID)
	assert.False(t, h.codes.Get("TGT-002").IsUsed)
	assert.Equal(t, []string{"SRC-123->TGT-001"}, h.target.published)
}

func TestAutomation_AutoRetryOnlyForUnreachable(t *testing.T) {
	settings := defaultSettings()
	settings[domain.SettingAutoRetry] = "true"
	settings[domain.SettingMaxAttempts] = "2"
	h := newAutomationHarness(t, settings)
	h.prober.results[domain.SystemSource] = domain.ConnectivityResult{
		System:  domain.SystemSource,
		Outcome: domain.OutcomeUnreachable,
		Message: "The source system is unreachable",
	}
	id := h.create(t, "SRC-123")

	require.Error(t, h.svc.Run(context.Background(), id))
	h.svc.Wait()

	retry := h.get(t, id+1)
	assert.Equal(t, 2, retry.Attempt)
	assert.Equal(t, domain.AutomationStatusFailed, retry.Status)
	_, err := h.autos.GetByID(context.Background(), id+2)
	assert.Error(t, err, "max attempts caps the retry chain")

	h.prober.results[domain.SystemSource] = domain.ConnectivityResult{
		System:  domain.SystemSource,
		Outcome: domain.OutcomeAuthFailure,
		Message: "Invalid credentials for the source system: incorrect password",
	}
	other := h.create(t, "SRC-456")
	require.Error(t, h.svc.Run(context.Background(), other))
	h.svc.Wait()
	_, err = h.autos.GetByID(context.Background(), other+1)
	assert.Error(t, err, "auth failures are not retried")
}

func TestAutomation_PersistenceFailureFailsJob(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	h.autos.failUpdateAt = domain.StepDownloadingMedia
	id := h.create(t, "SRC-123")

	require.Error(t, h.svc.Run(context.Background(), id))

	a := h.get(t, id)
	assert.Equal(t, domain.AutomationStatusFailed, a.Status)
	assert.Equal(t, domain.FailureTechnical, a.FailureKind)
	assert.Equal(t, "Could not save automation progress", a.ErrorMessage)
	assert.Empty(t, h.target.published)
}

func TestAutomation_PortalErrors(t *testing.T) {
	t.Run("listing not found", func(t *testing.T) {
		h := newAutomationHarness(t, defaultSettings())
		h.source.err = domain.ErrListingNotFound
		id := h.create(t, "SRC-404")

		require.ErrorIs(t, h.svc.Run(context.Background(), id), domain.ErrListingNotFound)
		a := h.get(t, id)
		assert.Equal(t, domain.FailurePrecondition, a.FailureKind)
		assert.Contains(t, a.ErrorMessage, "SRC-404")
	})

	t.Run("unconfirmed publish keeps the claim", func(t *testing.T) {
		h := newAutomationHarness(t, defaultSettings())
		h.target.err = domain.ErrPublishUnconfirmed
		id := h.create(t, "SRC-123")

		require.Error(t, h.svc.Run(context.Background(), id))
		a := h.get(t, id)
		assert.Equal(t, domain.FailureInconclusive, a.FailureKind)
		assert.Contains(t, a.ErrorMessage, "verify manually")
		assert.True(t, h.codes.Get("TGT-001").IsUsed)

		opened, closed := h.opener.Counts()
		assert.Equal(t, opened, closed)
	})

	t.Run("login form layout change", func(t *testing.T) {
		h := newAutomationHarness(t, defaultSettings())
		h.source.err = &browser.LayoutError{Element: "password"}
		id := h.create(t, "SRC-123")

		require.Error(t, h.svc.Run(context.Background(), id))
		a := h.get(t, id)
		assert.Equal(t, domain.FailureTechnical, a.FailureKind)
		assert.Equal(t, "The source system login form layout changed", a.ErrorMessage)
	})

	t.Run("listing form layout change", func(t *testing.T) {
		h := newAutomationHarness(t, defaultSettings())
		h.target.err = &portal.FormError{Element: "code"}
		id := h.create(t, "SRC-123")

		err := h.svc.Run(context.Background(), id)
		var formErr *portal.FormError
		require.ErrorAs(t, err, &formErr)
		a := h.get(t, id)
		assert.Equal(t, domain.FailureTechnical, a.FailureKind)
		assert.Contains(t, a.ErrorMessage, "listing form layout changed")
		assert.Contains(t, a.ErrorMessage, "code field")
		assert.NotContains(t, a.ErrorMessage, "login")
	})

	t.Run("unexpected error is technical", func(t *testing.T) {
		h := newAutomationHarness(t, defaultSettings())
		h.source.err = errors.New("boom")
		id := h.create(t, "SRC-123")

		require.Error(t, h.svc.Run(context.Background(), id))
		assert.Equal(t, domain.FailureTechnical, h.get(t, id).FailureKind)
	})
}

func TestAutomation_PhotoDownloadDisabled(t *testing.T) {
	settings := defaultSettings()
	settings[domain.SettingDownloadPhotos] = "false"
	h := newAutomationHarness(t, settings)
	id := h.create(t, "SRC-123")

	require.NoError(t, h.svc.Run(context.Background(), id))
	assert.Zero(t, h.media.calls)
	assert.EqualValues(t, 2, h.get(t, id).ResultData["photos"])
}

func TestAutomation_MediaNamespaceIsPerAutomation(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	first := h.create(t, "SRC-123")
	second := h.create(t, "SRC-123")

	require.NoError(t, h.svc.Run(context.Background(), first))
	require.NoError(t, h.svc.Run(context.Background(), second))

	require.Len(t, h.media.namespaces, 2)
	assert.Equal(t, fmt.Sprintf("%d-SRC-123", first), h.media.namespaces[0])
	assert.Equal(t, fmt.Sprintf("%d-SRC-123", second), h.media.namespaces[1])
	assert.NotEqual(t, h.media.namespaces[0], h.media.namespaces[1])
}

func TestAutomation_CompletedCannotRestart(t *testing.T) {
	h := newAutomationHarness(t, defaultSettings())
	id := h.create(t, "SRC-123")
	require.NoError(t, h.svc.Run(context.Background(), id))

	_, err := h.svc.Start(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotStartable)
	assert.ErrorIs(t, h.svc.Run(context.Background(), id), ErrNotStartable)

	_, err = h.svc.Start(context.Background(), 999)
	assert.ErrorIs(t, err, ErrAutomationNotFound)
}
