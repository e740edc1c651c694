package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func (p *recordingPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestRetentionService_SweepOnce(t *testing.T) {
	purger := &recordingPurger{}
	svc := NewRetentionService(purger, 30, time.Hour)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	n, err := svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, now.AddDate(0, 0, -30), purger.cutoffs[0])

	purger.err = errors.New("locked")
	_, err = svc.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestRetentionService_RunUntilCancelled(t *testing.T) {
	purger := &recordingPurger{}
	svc := NewRetentionService(purger, 1, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return purger.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRetentionService_Disabled(t *testing.T) {
	purger := &recordingPurger{}
	NewRetentionService(purger, 0, time.Millisecond).Run(context.Background())
	assert.Zero(t, purger.count())
}
