package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var errBrowserNotStarted = errors.New("browser not started")

// Automation drives one Chromium instance through rod and implements
// BrowserPort. It is owned by a single run.
type Automation struct {
	config   *Config
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	rand     *rand.Rand
	stopChan chan bool

	// onBrowserClosed is called once when the watcher finds the browser gone.
	onBrowserClosed func()

	mu           sync.Mutex
	dialog       *proto.PageJavascriptDialogOpening
	stopDialogs  context.CancelFunc
	closedNotify sync.Once
}

var _ BrowserPort = (*Automation)(nil)

func NewAutomation(config *Config) *Automation {
	return &Automation{
		config:   config,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan: make(chan bool, 1),
	}
}

func (a *Automation) Close() {
	select {
	case a.stopChan <- true:
	default:
	}

	Log.Info(T("cleaning_up"))

	a.mu.Lock()
	if a.stopDialogs != nil {
		a.stopDialogs()
	}
	a.mu.Unlock()

	if a.page != nil {
		a.page.Close()
	}

	if a.browser != nil {
		a.browser.Close()
	}

	if a.launcher != nil {
		a.launcher.Cleanup()
	}

	Log.Info(T("browser_destroyed"))
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	_, err := a.browser.Version()
	if err != nil {
		debugLog("Browser version check failed: %v", err)
		return false
	}

	return true
}

func (a *Automation) watchBrowser() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			if !a.isBrowserAlive() {
				Log.Warn("browser was closed, stopping")
				a.closedNotify.Do(func() {
					if a.onBrowserClosed != nil {
						a.onBrowserClosed()
					}
				})
				return
			}
		}
	}
}

func (a *Automation) getClickTimeout() time.Duration {
	timeoutMs := 700 + a.rand.Intn(400) // Random 700-1100ms
	return time.Duration(timeoutMs) * time.Millisecond
}

func (a *Automation) setupBrowser() error {
	Log.Info(T("browser_launching"))

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// Must be set before Bin() to be applied
	if a.config.BrowserProfilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.config.BrowserProfilePath)
		debugLog("browser profile: %s", a.config.BrowserProfilePath)
	}

	bin := a.config.BrowserBin
	if bin == "" {
		if path, ok := launcher.LookPath(); ok {
			bin = path
		}
	}
	if bin != "" {
		a.launcher = a.launcher.Bin(bin)
		Log.Info(T("browser_using_system_chrome"))
		debugLog("chrome binary: %s", bin)
	} else {
		Log.Info(T("browser_chrome_not_found"))
	}

	url, err := a.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			return fmt.Errorf("chrome is already running with profile %s; close it and try again: %w",
				a.config.BrowserProfilePath, err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	a.browser = rod.New().ControlURL(url)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := a.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	a.usePage(page)

	go a.watchBrowser()

	Log.Info(T("browser_launched"))
	return nil
}

// usePage makes p the current context and records its native dialogs.
func (a *Automation) usePage(p *rod.Page) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopDialogs != nil {
		a.stopDialogs()
	}
	a.page = p
	a.dialog = nil

	ctx, cancel := context.WithCancel(context.Background())
	a.stopDialogs = cancel

	wait := p.Context(ctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		a.mu.Lock()
		a.dialog = e
		a.mu.Unlock()
		debugLog("dialog opened (%s): %s", e.Type, e.Message)
	}, func(e *proto.PageJavascriptDialogClosed) {
		a.mu.Lock()
		a.dialog = nil
		a.mu.Unlock()
	})
	go wait()
}

func (a *Automation) pendingDialog() *proto.PageJavascriptDialogOpening {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dialog
}

// fault converts a rod error into a port fault. A dialog that opened while
// the call was blocked wins over whatever the driver reported.
func (a *Automation) fault(err error) error {
	if err == nil {
		return nil
	}
	if d := a.pendingDialog(); d != nil {
		return wrapFault(ErrUnexpectedDialog, fmt.Errorf("%s %q: %w", d.Type, d.Message, err))
	}
	return classifyDriverError(err)
}

// withPage runs fn against the current page bounded by ctx and timeout.
func (a *Automation) withPage(ctx context.Context, timeout time.Duration, fn func(p *rod.Page) error) error {
	if a.page == nil {
		return errBrowserNotStarted
	}
	if d := a.pendingDialog(); d != nil {
		return wrapFault(ErrUnexpectedDialog, fmt.Errorf("%s %q is open", d.Type, d.Message))
	}

	p := a.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	return a.fault(fn(p))
}

// withElement looks selector up without waiting for it to appear.
func (a *Automation) withElement(ctx context.Context, timeout time.Duration, selector string, fn func(el *rod.Element) error) error {
	return a.withPage(ctx, timeout, func(p *rod.Page) error {
		has, el, err := p.Has(selector)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return fn(el)
	})
}

func (a *Automation) Navigate(ctx context.Context, url string) error {
	return retryOnNetworkError(ctx, func() error {
		return a.withPage(ctx, a.config.opTimeout(), func(p *rod.Page) error {
			if err := p.Navigate(url); err != nil {
				return err
			}
			return p.WaitLoad()
		})
	}, "navigate "+url)
}

func (a *Automation) FindText(ctx context.Context, selector string) (string, error) {
	var text string
	err := a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		t, err := el.Text()
		text = t
		return err
	})
	return strings.TrimSpace(text), err
}

func (a *Automation) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	err := a.withPage(ctx, a.config.opTimeout(), func(p *rod.Page) error {
		has, _, err := p.Has(selector)
		found = has
		return err
	})
	return found, err
}

func (a *Automation) Click(ctx context.Context, selector string) error {
	return a.withElement(ctx, a.getClickTimeout(), selector, func(el *rod.Element) error {
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (a *Automation) PressEnter(ctx context.Context, selector string) error {
	return a.withElement(ctx, a.getClickTimeout(), selector, func(el *rod.Element) error {
		if err := el.Focus(); err != nil {
			return err
		}
		return el.Type(input.Enter)
	})
}

func (a *Automation) ScriptClick(ctx context.Context, selector string) error {
	return a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		_, err := el.Eval(`() => this.click()`)
		return err
	})
}

func (a *Automation) Type(ctx context.Context, selector, text string) error {
	return a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		if _, err := el.Eval(`() => { this.value = '' }`); err != nil {
			return err
		}
		return el.Input(text)
	})
}

// ForceVisible un-hides an element the site renders with display:none.
func (a *Automation) ForceVisible(ctx context.Context, selector string) error {
	return a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		_, err := el.Eval(`() => this.setAttribute('style', 'display: block;')`)
		return err
	})
}

func (a *Automation) SelectOption(ctx context.Context, selector, value string) error {
	return a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		return el.Select([]string{fmt.Sprintf(`option[value="%s"]`, value)}, true, rod.SelectorTypeCSSSector)
	})
}

func (a *Automation) SelectOptionText(ctx context.Context, selector, text string) error {
	return a.withElement(ctx, a.config.opTimeout(), selector, func(el *rod.Element) error {
		return el.Select([]string{text}, true, rod.SelectorTypeText)
	})
}

func (a *Automation) Back(ctx context.Context) error {
	return a.withPage(ctx, a.config.opTimeout(), func(p *rod.Page) error {
		if err := p.NavigateBack(); err != nil {
			return err
		}
		return p.WaitLoad()
	})
}

func (a *Automation) DismissDialogIfPresent(ctx context.Context) (bool, error) {
	d := a.pendingDialog()
	if d == nil || a.page == nil {
		return false, nil
	}

	debugLog("accepting %s dialog: %s", d.Type, d.Message)
	err := proto.PageHandleJavaScriptDialog{Accept: true}.Call(a.page.Context(ctx))
	if err != nil {
		return false, fmt.Errorf("dismiss dialog: %w", err)
	}

	a.mu.Lock()
	a.dialog = nil
	a.mu.Unlock()
	return true, nil
}

func (a *Automation) ListContexts(ctx context.Context) ([]string, error) {
	if a.browser == nil {
		return nil, errBrowserNotStarted
	}
	pages, err := a.browser.Context(ctx).Pages()
	if err != nil {
		return nil, a.fault(err)
	}
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, string(p.TargetID))
	}
	return handles, nil
}

func (a *Automation) CurrentContext(ctx context.Context) (string, error) {
	if a.page == nil {
		return "", errBrowserNotStarted
	}
	return string(a.page.TargetID), nil
}

func (a *Automation) SwitchContext(ctx context.Context, handle string) error {
	if a.browser == nil {
		return errBrowserNotStarted
	}
	if a.page != nil && string(a.page.TargetID) == handle {
		return nil
	}
	p, err := a.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("%w: context %s: %v", ErrNotFound, handle, err)
	}
	if _, err := p.Activate(); err != nil {
		return a.fault(err)
	}
	a.usePage(p.Context(context.Background()))
	return nil
}

func (a *Automation) CloseContext(ctx context.Context, handle string) error {
	if a.browser == nil {
		return errBrowserNotStarted
	}
	p, err := a.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("%w: context %s: %v", ErrNotFound, handle, err)
	}
	return a.fault(p.Close())
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "net::err_") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host")
}

// retryOnNetworkError retries operation up to three times while it fails
// with a network error.
func retryOnNetworkError(ctx context.Context, operation func() error, operationName string) error {
	const maxAttempts = 3

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = operation()
		if err == nil || !isNetworkError(err) || isDialogFault(err) {
			return err
		}
		if attempt < maxAttempts {
			debugLog("%s: network error (attempt %d/%d): %v", operationName, attempt, maxAttempts, err)
			if serr := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, err)
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
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
