package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Page is one isolated browser tab. Implementations must make Close
// idempotent.
type Page interface {
	ElementFinder

	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Press(ctx context.Context, key string) error
	URL(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	TextOf(ctx context.Context, selector string) (string, error)
	AttrAll(ctx context.Context, selector, attr string) ([]string, error)
	SetFiles(ctx context.Context, selector string, paths []string) error
	CookieCount(ctx context.Context) (int, error)
	Close() error
}

type chromePage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	actTimeout time.Duration
	onClose    func()

	closeOnce sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quote(selector))
	if err := p.run(ctx, p.actTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return found, nil
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	err := p.run(ctx, p.actTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.actTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Press(ctx context.Context, key string) error {
	if err := p.run(ctx, p.actTimeout, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("press key: %w", err)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.actTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	expr := `document.body ? document.body.innerText : ""`
	if err := p.run(ctx, p.actTimeout, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

func (p *chromePage) TextOf(ctx context.Context, selector string) (string, error) {
	var text string
	expr := fmt.Sprintf(`(function(){const el=document.querySelector(%s);if(!el)return "";return ("value" in el && el.value) ? String(el.value) : el.innerText;})()`, quote(selector))
	if err := p.run(ctx, p.actTimeout, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

func (p *chromePage) AttrAll(ctx context.Context, selector, attr string) ([]string, error) {
	var values []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => el.getAttribute(%s) || "").filter(v => v !== "")`,
		quote(selector), quote(attr))
	if err := p.run(ctx, p.actTimeout, chromedp.Evaluate(expr, &values)); err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", attr, selector, err)
	}
	return values, nil
}

func (p *chromePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := p.run(ctx, p.navTimeout, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("upload files to %s: %w", selector, err)
	}
	return nil
}

// CookieCount returns how many cookies apply to the current URL. A session
// cookie appearing after login is a useful diagnostic.
func (p *chromePage) CookieCount(ctx context.Context) (int, error) {
	var count int
	err := p.run(ctx, p.actTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			count = len(cookies)
			return nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("read cookies: %w", err)
	}
	return count, nil
}

func (p *chromePage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return err
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
