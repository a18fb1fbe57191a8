package main

import (
	"context"
	"errors"
	"time"
)

var errNoSession = errors.New("not logged in")

// Searcher fills the schedule search form and submits it.
type Searcher struct {
	port   BrowserPort
	url    string
	sel    SelectorConfig
	settle time.Duration
	sleep  sleepFunc
}

func NewSearcher(port BrowserPort, config *Config) *Searcher {
	return &Searcher{
		port:   port,
		url:    config.URLs.Search,
		sel:    config.Selectors,
		settle: config.Pacing.searchSettle(),
		sleep:  sleepCtx,
	}
}

// Search issues one search for c. It does not retry; any failure is a
// *SearchError naming the step that failed.
func (s *Searcher) Search(ctx context.Context, session *Session, c *Criteria) (*ResultsView, error) {
	if session == nil {
		return nil, &SearchError{Step: "session", Err: errNoSession}
	}
	Log.Info(T("search_start", c.String()))

	steps := []struct {
		name string
		run  func() error
	}{
		{"open schedule page", func() error { return s.port.Navigate(ctx, s.url) }},
		{"departure", func() error { return s.port.Type(ctx, s.sel.Departure, c.Departure()) }},
		{"arrival", func() error { return s.port.Type(ctx, s.sel.Arrival, c.Arrival()) }},
		{"show date select", func() error { return s.port.ForceVisible(ctx, s.sel.Date) }},
		{"date", func() error { return s.port.SelectOption(ctx, s.sel.Date, c.Date()) }},
		{"show hour select", func() error { return s.port.ForceVisible(ctx, s.sel.Hour) }},
		{"hour", func() error { return s.port.SelectOptionText(ctx, s.sel.Hour, c.Hour()) }},
		{"submit", func() error { return s.port.Click(ctx, s.sel.SearchSubmit) }},
		{"settle", func() error { return s.sleep(ctx, s.settle) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, &SearchError{Step: step.name, Err: err}
		}
	}

	return &ResultsView{searched: time.Now()}, nil
}
