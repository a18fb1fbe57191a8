package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrReadOnly is returned by every mutating call on a Snapshot.
var ErrReadOnly = errors.New("snapshot is read-only")

const snapshotContext = "snapshot"

// Snapshot is a BrowserPort over a saved HTML page. It answers reads the way
// the live page would and refuses everything else, which makes it usable for
// offline evaluation of a results table.
type Snapshot struct {
	doc *goquery.Document
}

var _ BrowserPort = (*Snapshot)(nil)

func NewSnapshot(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &Snapshot{doc: doc}, nil
}

func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewSnapshot(f)
}

func (s *Snapshot) find(selector string) (*goquery.Selection, error) {
	sel := s.doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return sel.First(), nil
}

func (s *Snapshot) FindText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (s *Snapshot) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.doc.Find(selector).Length() > 0, nil
}

func (s *Snapshot) DismissDialogIfPresent(ctx context.Context) (bool, error) { return false, nil }

func (s *Snapshot) ListContexts(ctx context.Context) ([]string, error) {
	return []string{snapshotContext}, nil
}

func (s *Snapshot) CurrentContext(ctx context.Context) (string, error) {
	return snapshotContext, nil
}

func (s *Snapshot) SwitchContext(ctx context.Context, handle string) error {
	if handle != snapshotContext {
		return fmt.Errorf("%w: context %s", ErrNotFound, handle)
	}
	return nil
}

func (s *Snapshot) Navigate(ctx context.Context, url string) error          { return ErrReadOnly }
func (s *Snapshot) Click(ctx context.Context, selector string) error        { return ErrReadOnly }
func (s *Snapshot) PressEnter(ctx context.Context, selector string) error   { return ErrReadOnly }
func (s *Snapshot) ScriptClick(ctx context.Context, selector string) error  { return ErrReadOnly }
func (s *Snapshot) Type(ctx context.Context, selector, text string) error   { return ErrReadOnly }
func (s *Snapshot) ForceVisible(ctx context.Context, selector string) error { return ErrReadOnly }
func (s *Snapshot) Back(ctx context.Context) error                          { return ErrReadOnly }
func (s *Snapshot) CloseContext(ctx context.Context, handle string) error   { return ErrReadOnly }

func (s *Snapshot) SelectOption(ctx context.Context, selector, value string) error {
	return ErrReadOnly
}

func (s *Snapshot) SelectOptionText(ctx context.Context, selector, text string) error {
	return ErrReadOnly
}
