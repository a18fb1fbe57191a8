package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Refresher waits a jittered interval and re-submits the search form in
// place, which reloads the results table.
type Refresher struct {
	port     BrowserPort
	submit   string
	min, max time.Duration
	limiter  *rate.Limiter
	settle   time.Duration
	sleep    sleepFunc
	rand     *rand.Rand
}

func NewRefresher(port BrowserPort, config *Config) *Refresher {
	p := config.Pacing

	limit := rate.Inf
	if iv := p.minRefreshInterval(); iv > 0 {
		limit = rate.Every(iv)
	}

	return &Refresher{
		port:    port,
		submit:  config.Selectors.SearchSubmit,
		min:     time.Duration(p.RefreshMinSeconds * float64(time.Second)),
		max:     time.Duration(p.RefreshMaxSeconds * float64(time.Second)),
		limiter: rate.NewLimiter(limit, 1),
		settle:  p.searchSettle(),
		sleep:   sleepCtx,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// jitter returns a uniformly random duration in [min, max].
func (r *Refresher) jitter() time.Duration {
	if r.max <= r.min {
		return r.min
	}
	return r.min + time.Duration(r.rand.Int63n(int64(r.max-r.min)+1))
}

// WaitAndRefresh sleeps, refreshes the results and bumps state.refreshes.
// A returned error means the results page is gone and a new search is needed.
func (r *Refresher) WaitAndRefresh(ctx context.Context, view *ResultsView, state *runState) error {
	if err := r.sleep(ctx, r.jitter()); err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := r.port.ScriptClick(ctx, r.submit); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.settle); err != nil {
		return err
	}

	view.searched = time.Now()
	state.refreshes++
	refreshesTotal.Inc()
	Log.WithFields(logrus.Fields{
		"run_id":    state.id,
		"refreshes": state.refreshes,
	}).Info(T("refresh_count", state.refreshes))
	return nil
}
