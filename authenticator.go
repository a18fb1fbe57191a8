package main

import (
	"context"
	"strings"
	"time"
)

type sleepFunc func(ctx context.Context, d time.Duration) error

// Authenticator signs in to the reservation site.
type Authenticator struct {
	port   BrowserPort
	url    string
	sel    SelectorConfig
	marker string
	settle time.Duration
	sleep  sleepFunc
}

func NewAuthenticator(port BrowserPort, config *Config) *Authenticator {
	return &Authenticator{
		port:   port,
		url:    config.URLs.Login,
		sel:    config.Selectors,
		marker: config.Markers.LoggedIn,
		settle: config.Pacing.loginSettle(),
		sleep:  sleepCtx,
	}
}

// Login submits creds and returns the authenticated session. Every failure,
// including a missing welcome marker, is an *AuthenticationError.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if !creds.Valid() {
		return nil, &AuthenticationError{Reason: "login id and password are required"}
	}

	Log.Info(T("login_start", creds.ID))

	primary, err := a.port.CurrentContext(ctx)
	if err != nil {
		return nil, &AuthenticationError{Reason: "read current window", Err: err}
	}

	if err := a.port.Navigate(ctx, a.url); err != nil {
		return nil, &AuthenticationError{Reason: "open login page", Err: err}
	}
	if err := a.port.Type(ctx, a.sel.LoginID, creds.ID); err != nil {
		return nil, &AuthenticationError{Reason: "type login id", Err: err}
	}
	if err := a.port.Type(ctx, a.sel.LoginPassword, creds.Password); err != nil {
		return nil, &AuthenticationError{Reason: "type password", Err: err}
	}
	if err := a.port.Click(ctx, a.sel.LoginSubmit); err != nil {
		return nil, &AuthenticationError{Reason: "submit login form", Err: err}
	}
	if err := a.sleep(ctx, a.settle); err != nil {
		return nil, &AuthenticationError{Reason: "wait after login", Err: err}
	}

	if err := a.closePopups(ctx, primary); err != nil {
		return nil, &AuthenticationError{Reason: "close popup windows", Err: err}
	}

	text, err := a.port.FindText(ctx, a.sel.LoginMarker)
	if err != nil {
		return nil, &AuthenticationError{Reason: "read login marker", Err: err}
	}
	if !strings.Contains(text, a.marker) {
		return nil, &AuthenticationError{Reason: "welcome marker not found, check id and password"}
	}

	Log.Info(T("login_success"))
	return &Session{primary: primary}, nil
}

// closePopups closes every window except primary and selects primary again.
// The site opens notices (password change and the like) right after login.
func (a *Authenticator) closePopups(ctx context.Context, primary string) error {
	handles, err := a.port.ListContexts(ctx)
	if err != nil {
		return err
	}

	closed := 0
	for _, h := range handles {
		if h == primary {
			continue
		}
		if err := a.port.SwitchContext(ctx, h); err != nil {
			return err
		}
		if err := a.port.CloseContext(ctx, h); err != nil {
			return err
		}
		closed++
	}

	if err := a.port.SwitchContext(ctx, primary); err != nil {
		return err
	}
	if closed > 0 {
		Log.Info(T("login_popups_closed", closed))
	}
	return nil
}
