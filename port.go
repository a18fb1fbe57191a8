package main

import (
	"context"
	"errors"
	"strings"
)

// Fault kinds every BrowserPort operation may report. Implementations wrap
// their raw driver errors so callers can test them with errors.Is.
var (
	ErrNotFound         = errors.New("element not found")
	ErrStale            = errors.New("stale element")
	ErrUnexpectedDialog = errors.New("unexpected dialog")
)

// BrowserPort is the page-automation capability the reservation core drives.
// All calls are blocking and act on the currently selected context.
type BrowserPort interface {
	Navigate(ctx context.Context, url string) error
	FindText(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	PressEnter(ctx context.Context, selector string) error
	ScriptClick(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	ForceVisible(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error
	SelectOptionText(ctx context.Context, selector, text string) error
	Back(ctx context.Context) error

	// DismissDialogIfPresent accepts a pending native dialog. It reports
	// whether one was open.
	DismissDialogIfPresent(ctx context.Context) (bool, error)

	ListContexts(ctx context.Context) ([]string, error)
	CurrentContext(ctx context.Context) (string, error)
	SwitchContext(ctx context.Context, handle string) error
	CloseContext(ctx context.Context, handle string) error
}

// isDialogFault reports whether err was caused by a native dialog blocking the page.
func isDialogFault(err error) bool {
	return errors.Is(err, ErrUnexpectedDialog)
}

// isReadFault reports whether err means an element could not be read right now.
func isReadFault(err error) bool {
	return errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound)
}

// classifyDriverError maps raw CDP error text onto the port fault kinds.
// Unrecognised errors are returned unchanged.
func classifyDriverError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) || errors.Is(err, ErrUnexpectedDialog) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "javascript dialog") ||
		strings.Contains(msg, "dialog is showing") ||
		strings.Contains(msg, "alert"):
		return wrapFault(ErrUnexpectedDialog, err)
	case strings.Contains(msg, "could not find node") ||
		strings.Contains(msg, "node with given id does not belong") ||
		strings.Contains(msg, "node is detached") ||
		strings.Contains(msg, "cannot find context with specified id") ||
		strings.Contains(msg, "execution context was destroyed") ||
		strings.Contains(msg, "object reference chain is too long") ||
		strings.Contains(msg, "object not found"):
		return wrapFault(ErrStale, err)
	case strings.Contains(msg, "cannot find element") ||
		strings.Contains(msg, "element not found") ||
		strings.Contains(msg, "no node found"):
		return wrapFault(ErrNotFound, err)
	}
	return err
}

type faultError struct {
	kind  error
	cause error
}

func wrapFault(kind, cause error) error {
	return &faultError{kind: kind, cause: cause}
}

func (e *faultError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *faultError) Is(target error) bool {
	return target == e.kind
}

func (e *faultError) Unwrap() error {
	return e.cause
}
