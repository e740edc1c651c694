// Package browser owns the single headless Chrome process shared by all
// automations and hands out isolated tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/logger"
)

// ErrClosed is returned when a page is requested from a closed manager.
var ErrClosed = errors.New("browser manager closed")

// Stats is a point-in-time view of browser usage.
type Stats struct {
	Running     bool  `json:"running"`
	Launches    int64 `json:"launches"`
	PagesOpened int64 `json:"pages_opened"`
	PagesClosed int64 `json:"pages_closed"`
}

// Manager lazily launches one browser and reuses it until it disconnects
// or Close is called. It is safe for concurrent use.
type Manager struct {
	cfg config.BrowserConfig

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	shutdown      bool

	stats Stats
}

// NewManager creates a manager. No browser is started until first use.
func NewManager(cfg config.BrowserConfig) *Manager {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	return &Manager{cfg: cfg}
}

// SetHeadless changes the headless flag for the next launch.
func (m *Manager) SetHeadless(headless bool) {
	m.mu.Lock()
	m.cfg.Headless = headless
	m.mu.Unlock()
}

// Acquire returns the live browser context, launching a browser when none
// is running or the previous one has disconnected.
func (m *Manager) Acquire(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrClosed
	}
	if m.aliveLocked() {
		return m.browserCtx, nil
	}
	if m.browserCtx != nil {
		logger.CtxWarn(ctx, "[Browser] Previous browser disconnected, relaunching")
		m.teardownLocked()
	}
	if err := m.launchLocked(ctx); err != nil {
		return nil, err
	}
	return m.browserCtx, nil
}

func (m *Manager) aliveLocked() bool {
	if m.browserCtx == nil || m.browserCtx.Err() != nil {
		return false
	}
	if _, err := chromedp.Targets(m.browserCtx); err != nil {
		return false
	}
	return true
}

func (m *Manager) launchLocked(ctx context.Context) error {
	start := time.Now()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("single-process", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}

	// The browser must outlive the request that triggered the launch.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// First Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.stats.Launches++

	logger.With(logger.Fields{"headless": m.cfg.Headless}).WithDuration(start).
		Info(ctx, "[Browser] Launched headless browser")
	return nil
}

func (m *Manager) teardownLocked() {
	if m.browserCtx == nil {
		return
	}
	// Cancel gracefully closes the browser before the allocator kills it.
	_ = chromedp.Cancel(m.browserCtx)
	m.browserCancel()
	m.allocCancel()
	m.browserCtx = nil
	m.browserCancel = nil
	m.allocCancel = nil
}

// NewPage opens a fresh tab on the shared browser.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	browserCtx, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	m.mu.Lock()
	m.stats.PagesOpened++
	m.mu.Unlock()

	return &chromePage{
		ctx:        tabCtx,
		cancel:     tabCancel,
		navTimeout: m.cfg.NavigationTimeout,
		actTimeout: m.cfg.ActionTimeout,
		onClose:    m.pageClosed,
	}, nil
}

func (m *Manager) pageClosed() {
	m.mu.Lock()
	m.stats.PagesClosed++
	m.mu.Unlock()
}

// Close shuts the browser down. It is a no-op when no browser is running.
// The manager refuses new pages afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdown = true
	if m.browserCtx == nil {
		return nil
	}
	m.teardownLocked()
	logger.Info("[Browser] Browser closed")
	return nil
}

// Stats returns current usage counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Running = m.browserCtx != nil && m.browserCtx.Err() == nil
	return s
}
