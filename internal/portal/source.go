package portal

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
)

// SourcePortal scrapes listings from the source system.
type SourcePortal struct {
	session session
	cfg     config.SourcePortalConfig
}

// NewSourcePortal creates a SourcePortal from the source login profile and
// the listing page map.
func NewSourcePortal(profile config.SystemProfileConfig, cfg config.SourcePortalConfig) *SourcePortal {
	return &SourcePortal{session: newSession(profile), cfg: cfg}
}

// Extract logs in and reads the listing identified by sourceCode.
// It returns domain.ErrListingNotFound when the listing page has no
// listing content.
func (p *SourcePortal) Extract(ctx context.Context, page browser.Page, creds domain.Credentials, sourceCode string) (*domain.Listing, error) {
	if err := p.session.login(ctx, page, creds); err != nil {
		return nil, err
	}

	listingURL := fmt.Sprintf(p.cfg.ListingURLTemplate, url.PathEscape(sourceCode))
	if err := page.Navigate(ctx, listingURL); err != nil {
		return nil, err
	}

	if p.cfg.ReadySelector != "" {
		ok, err := page.Exists(ctx, p.cfg.ReadySelector)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrListingNotFound, sourceCode)
		}
	}

	listing := &domain.Listing{SourceCode: sourceCode}
	names := make([]string, 0, len(p.cfg.Fields))
	for name := range p.cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	found := 0
	for _, name := range names {
		selector := p.cfg.Fields[name]
		ok, err := page.Exists(ctx, selector)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		text, err := page.TextOf(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			listing.SetField(name, text)
			found++
		}
	}
	if found == 0 || listing.Title == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrListingNotFound, sourceCode)
	}

	if p.cfg.PhotoSelector != "" {
		raw, err := page.AttrAll(ctx, p.cfg.PhotoSelector, p.cfg.PhotoAttr)
		if err != nil {
			return nil, fmt.Errorf("read photos: %w", err)
		}
		base, _ := page.URL(ctx)
		if base == "" {
			base = listingURL
		}
		listing.PhotoURLs = absoluteURLs(base, raw)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"fields": found,
		"photos": len(listing.PhotoURLs),
	}).Debug("Listing scraped")
	return listing, nil
}

// absoluteURLs resolves photo references against the page URL, dropping
// blanks, inline data and duplicates.
func absoluteURLs(base string, refs []string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "data:") {
			continue
		}
		u, err := url.Parse(ref)
		if err != nil {
			continue
		}
		if baseURL != nil {
			u = baseURL.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		s := u.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
