package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/listingsync/internal/config"
)

const enterKey = "\r"

// LayoutError reports a login form element that could not be located.
type LayoutError struct {
	Element string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("login form %s field not found", e.Element)
}

// LoginForm describes where a login form lives and how to find its parts.
type LoginForm struct {
	URL      string
	Username []Candidate
	Password []Candidate
	Submit   []Candidate
}

// FormFromProfile builds the login form of a system profile.
func FormFromProfile(p config.SystemProfileConfig) LoginForm {
	return LoginForm{
		URL:      p.LoginURL,
		Username: CandidatesFrom(p.UsernameSelectors),
		Password: CandidatesFrom(p.PasswordSelectors),
		Submit:   CandidatesFrom(p.SubmitSelectors),
	}
}

// SubmitLogin navigates to the form, fills both credentials and submits.
// When no submit control is found the form is submitted with Enter.
// A missing username or password field yields a *LayoutError.
func SubmitLogin(ctx context.Context, page Page, form LoginForm, username, password string) error {
	if err := page.Navigate(ctx, form.URL); err != nil {
		return err
	}

	userField, err := FindFirstMatch(ctx, page, form.Username)
	if err != nil {
		return layoutOr(err, "username")
	}
	if err := page.Fill(ctx, userField.Selector, username); err != nil {
		return err
	}

	passField, err := FindFirstMatch(ctx, page, form.Password)
	if err != nil {
		return layoutOr(err, "password")
	}
	if err := page.Fill(ctx, passField.Selector, password); err != nil {
		return err
	}

	submit, err := FindFirstMatch(ctx, page, form.Submit)
	switch {
	case errors.Is(err, ErrNoMatch):
		return page.Press(ctx, enterKey)
	case err != nil:
		return err
	}
	return page.Click(ctx, submit.Selector)
}

func layoutOr(err error, element string) error {
	if errors.Is(err, ErrNoMatch) {
		return &LayoutError{Element: element}
	}
	return err
}

// Settle waits d for client-side redirects and rendering after a submit.
func Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
