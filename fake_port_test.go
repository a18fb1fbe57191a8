package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakePort is a scripted BrowserPort. Reads come from texts and exists,
// queued errors are consumed one per call, and every call is recorded.
type fakePort struct {
	mu sync.Mutex

	texts  map[string]string
	exists map[string]bool

	findErrs     map[string][]error
	navigateErrs map[string][]error
	clickErrs    map[string][]error
	enterErrs    map[string][]error
	scriptErrs   map[string][]error
	backErrs     []error

	dialog   bool
	contexts []string
	current  string
	closed   map[string]bool

	// onClick and onScriptClick let a test change the page in reaction to
	// a successful click.
	onClick       func(f *fakePort, selector string)
	onScriptClick func(f *fakePort, selector string)

	// onFind runs after a successful read with the lock held; it may only
	// touch fields directly.
	onFind func(f *fakePort, selector string)

	calls []string
}

func newFakePort() *fakePort {
	return &fakePort{
		texts:        map[string]string{},
		exists:       map[string]bool{},
		findErrs:     map[string][]error{},
		navigateErrs: map[string][]error{},
		clickErrs:    map[string][]error{},
		enterErrs:    map[string][]error{},
		scriptErrs:   map[string][]error{},
		contexts:     []string{"main"},
		current:      "main",
		closed:       map[string]bool{},
	}
}

var _ BrowserPort = (*fakePort)(nil)

func (f *fakePort) record(op, arg string) {
	f.calls = append(f.calls, strings.TrimSpace(op+" "+arg))
}

// noteDialog marks a dialog as open when a scripted error says one is.
func (f *fakePort) noteDialog(err error) error {
	if isDialogFault(err) {
		f.dialog = true
	}
	return err
}

// blocked is what every page call gets while a native dialog is open, the
// way the rod port refuses to act on a page under an alert.
func (f *fakePort) blocked() error {
	if f.dialog {
		return dialogErr()
	}
	return nil
}

func pop(queue map[string][]error, key string) error {
	errs := queue[key]
	if len(errs) == 0 {
		return nil
	}
	queue[key] = errs[1:]
	return errs[0]
}

// count returns how many recorded calls equal call.
func (f *fakePort) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// index returns the position of the n-th (0-based) occurrence of call, or -1.
func (f *fakePort) index(call string, n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			if n == 0 {
				return i
			}
			n--
		}
	}
	return -1
}

func (f *fakePort) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate", url)
	if err := f.blocked(); err != nil {
		return err
	}
	return f.noteDialog(pop(f.navigateErrs, url))
}

func (f *fakePort) FindText(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find", selector)
	if err := f.blocked(); err != nil {
		return "", err
	}
	if err := pop(f.findErrs, selector); err != nil {
		return "", f.noteDialog(err)
	}
	text, ok := f.texts[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	if f.onFind != nil {
		f.onFind(f, selector)
	}
	return text, nil
}

func (f *fakePort) Exists(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists", selector)
	if err := f.blocked(); err != nil {
		return false, err
	}
	return f.exists[selector], nil
}

func (f *fakePort) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.record("click", selector)
	err := f.blocked()
	if err == nil {
		err = f.noteDialog(pop(f.clickErrs, selector))
	}
	hook := f.onClick
	f.mu.Unlock()

	if err == nil && hook != nil {
		hook(f, selector)
	}
	return err
}

func (f *fakePort) PressEnter(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.record("enter", selector)
	err := f.blocked()
	if err == nil {
		err = f.noteDialog(pop(f.enterErrs, selector))
	}
	hook := f.onClick
	f.mu.Unlock()

	if err == nil && hook != nil {
		hook(f, selector)
	}
	return err
}

func (f *fakePort) ScriptClick(ctx context.Context, selector string) error {
	f.mu.Lock()
	f.record("script-click", selector)
	err := f.blocked()
	if err == nil {
		err = f.noteDialog(pop(f.scriptErrs, selector))
	}
	hook := f.onScriptClick
	f.mu.Unlock()

	if err == nil && hook != nil {
		hook(f, selector)
	}
	return err
}

func (f *fakePort) Type(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("type", selector)
	return f.blocked()
}

func (f *fakePort) ForceVisible(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("show", selector)
	return f.blocked()
}

func (f *fakePort) SelectOption(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("select", selector+"="+value)
	return f.blocked()
}

func (f *fakePort) SelectOptionText(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("select-text", selector+"="+text)
	return f.blocked()
}

func (f *fakePort) Back(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("back", "")
	if err := f.blocked(); err != nil {
		return err
	}
	if len(f.backErrs) > 0 {
		err := f.backErrs[0]
		f.backErrs = f.backErrs[1:]
		return f.noteDialog(err)
	}
	return nil
}

func (f *fakePort) DismissDialogIfPresent(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("dismiss", "")
	was := f.dialog
	f.dialog = false
	return was, nil
}

func (f *fakePort) ListContexts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []string
	for _, c := range f.contexts {
		if !f.closed[c] {
			open = append(open, c)
		}
	}
	return open, nil
}

func (f *fakePort) CurrentContext(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakePort) SwitchContext(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("switch", handle)
	f.current = handle
	return nil
}

func (f *fakePort) CloseContext(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close", handle)
	f.closed[handle] = true
	return nil
}

// dialogErr is what a blocked page reports while a native dialog is open.
func dialogErr() error {
	return wrapFault(ErrUnexpectedDialog, fmt.Errorf("alert %q", "잠시 후 다시 시도해 주십시오"))
}

// testConfig returns defaults with every wait set to zero.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Pacing = PacingConfig{}
	cfg.HistoryPath = ""
	return cfg
}

func seatCell(cfg *Config, rank int) string     { return fmt.Sprintf(cfg.Selectors.SeatCell, rank) }
func waitlistCell(cfg *Config, rank int) string { return fmt.Sprintf(cfg.Selectors.WaitlistCell, rank) }
func bookLink(cfg *Config, rank int) string     { return fmt.Sprintf(cfg.Selectors.BookLink, rank) }
func waitlistLink(cfg *Config, rank int) string { return fmt.Sprintf(cfg.Selectors.WaitlistLink, rank) }
