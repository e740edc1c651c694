// Package browsertest provides in-memory browser pages for tests.
package browsertest

import (
	"context"
	"sync"

	"github.com/timmy/listingsync/internal/browser"
)

// Page is a scripted browser.Page. Zero value is an empty page.
type Page struct {
	mu sync.Mutex

	// Elements lists selectors that exist on the page.
	Elements map[string]bool
	// Texts maps selectors to their text, for TextOf.
	Texts map[string]string
	// Attrs maps "selector|attr" to attribute values, for AttrAll.
	Attrs map[string][]string
	// Body is the page text returned by Text.
	Body string
	// Cookies is returned by CookieCount.
	Cookies int

	// AfterSubmit replaces URL and Body once the form is clicked or
	// submitted with a key press.
	AfterSubmitURL  string
	AfterSubmitBody string

	NavigateErr error
	ExistsErr   error
	// PanicOnNavigate makes Navigate panic, for recovery tests.
	PanicOnNavigate bool

	current  string
	Filled   map[string]string
	Clicked  []string
	Uploads  map[string][]string
	Visited  []string
	closes   int
	onClosed func()
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Navigate(_ context.Context, url string) error {
	if p.PanicOnNavigate {
		panic("scripted navigate panic")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.current = url
	p.Visited = append(p.Visited, url)
	return nil
}

func (p *Page) Exists(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ExistsErr != nil {
		return false, p.ExistsErr
	}
	return p.Elements[selector], nil
}

func (p *Page) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Filled == nil {
		p.Filled = make(map[string]string)
	}
	p.Filled[selector] = value
	return nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicked = append(p.Clicked, selector)
	p.submitLocked()
	return nil
}

func (p *Page) Press(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitLocked()
	return nil
}

func (p *Page) submitLocked() {
	if p.AfterSubmitURL != "" {
		p.current = p.AfterSubmitURL
	}
	if p.AfterSubmitBody != "" {
		p.Body = p.AfterSubmitBody
	}
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *Page) Text(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Body, nil
}

func (p *Page) TextOf(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Texts[selector], nil
}

func (p *Page) AttrAll(_ context.Context, selector, attr string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Attrs[selector+"|"+attr], nil
}

func (p *Page) SetFiles(_ context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Uploads == nil {
		p.Uploads = make(map[string][]string)
	}
	p.Uploads[selector] = append(p.Uploads[selector], paths...)
	return nil
}

func (p *Page) CookieCount(context.Context) (int, error) {
	return p.Cookies, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closes++
	first := p.closes == 1
	cb := p.onClosed
	p.mu.Unlock()
	if first && cb != nil {
		cb()
	}
	return nil
}

// Closed reports whether Close was called at least once.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes > 0
}

// Opener hands out pages built by New and counts opened and closed pages.
type Opener struct {
	New func() *Page
	Err error

	mu     sync.Mutex
	opened int
	closed int
	pages  []*Page
}

func (o *Opener) NewPage(context.Context) (browser.Page, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	p := &Page{}
	if o.New != nil {
		p = o.New()
	}
	p.onClosed = func() {
		o.mu.Lock()
		o.closed++
		o.mu.Unlock()
	}
	o.mu.Lock()
	o.opened++
	o.pages = append(o.pages, p)
	o.mu.Unlock()
	return p, nil
}

// Counts returns how many pages were opened and closed.
func (o *Opener) Counts() (opened, closed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened, o.closed
}

// Pages returns every page handed out so far.
func (o *Opener) Pages() []*Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Page(nil), o.pages...)
}
