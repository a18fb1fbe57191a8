package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Poller runs one reservation attempt from login until a seat is held or the
// context is cancelled. A Poller and its port belong to a single run.
type Poller struct {
	port     BrowserPort
	criteria *Criteria
	notifier Notifier

	auth    *Authenticator
	search  *Searcher
	eval    *Evaluator
	attempt *Attempter
	refresh *Refresher

	sleep         sleepFunc
	newRunID      func() string
	notifyTimeout time.Duration
}

// defaultNotifyTimeout bounds the whole notification fan-out of a run.
const defaultNotifyTimeout = 30 * time.Second

func NewPoller(port BrowserPort, config *Config, criteria *Criteria, notifier Notifier) *Poller {
	return &Poller{
		port:     port,
		criteria: criteria,
		notifier: notifier,
		auth:     NewAuthenticator(port, config),
		search:   NewSearcher(port, config),
		eval:     NewEvaluator(port, config),
		attempt:  NewAttempter(port, config),
		refresh:  NewRefresher(port, config),
		sleep:    sleepCtx,
		newRunID: uuid.NewString,

		notifyTimeout: defaultNotifyTimeout,
	}
}

// Run logs in and polls the results table until a ranked train is booked or
// waitlisted. It stops early only on a failed login or when ctx is done, in
// which case it returns ctx.Err() and a non-booked result.
func (p *Poller) Run(ctx context.Context, creds Credentials) (RunResult, error) {
	state := &runState{id: p.newRunID(), started: time.Now()}
	log := Log.WithField("run_id", state.id)
	log.WithField("criteria", p.criteria.String()).Info("run started")

	session, err := p.auth.Login(ctx, creds)
	if err != nil {
		if ctx.Err() != nil {
			return p.stopped(state, log, ctx.Err())
		}
		return p.result(state, "", 0), err
	}

	var view *ResultsView
	current := stateSearching

	for {
		if ctx.Err() != nil {
			return p.stopped(state, log, ctx.Err())
		}
		log.WithField("state", current).Debug("poll state")

		// An open alert blocks every page call, so it goes before anything
		// else. Searching starts from a page that may carry a session notice.
		if state.needsDismiss {
			log.WithField("state", stateFaulted).Warn(T("dialog_interrupted"))
			p.dismiss(ctx, log, state)
		} else if current == stateSearching {
			p.dismiss(ctx, log, state)
		}

		switch current {
		case stateSearching:
			v, err := p.search.Search(ctx, session, p.criteria)
			recordSearch(err)
			if err != nil {
				if isDialogFault(err) {
					state.needsDismiss = true
				}
				if ctx.Err() == nil {
					log.Warn(T("search_retry", err))
					_ = p.sleep(ctx, p.refresh.jitter())
				}
				continue
			}
			view = v
			current = stateEvaluating

		case stateEvaluating:
			outcome, rank := p.pass(ctx, view, state)
			switch {
			case outcome.Terminal():
				res := p.result(state, outcome, rank)
				log.WithField("state", stateDone).Info(res.String())
				p.notify(ctx, log, res)
				return res, nil
			case outcome == OutcomeUnknown:
				state.needsDismiss = true
				current = stateFaulted
				continue
			}
			log.WithField("results_age", time.Since(view.searched).Round(time.Second)).Info(T("no_seat_yet"))
			current = p.refreshOrSearch(ctx, log, view, state)

		case stateFaulted:
			current = p.refreshOrSearch(ctx, log, view, state)
		}
	}
}

// pass evaluates every rank once, in priority order. It returns the first
// terminal or unknown outcome, or OutcomeNoSeatRetry when no rank succeeded.
func (p *Poller) pass(ctx context.Context, view *ResultsView, state *runState) (AttemptOutcome, int) {
	state.pass++
	passesTotal.Inc()
	log := Log.WithFields(logrus.Fields{"run_id": state.id, "pass": state.pass})

	// Dialogs left over from a refresh or the previous pass block every read.
	p.dismiss(ctx, log, state)

	for _, rank := range p.criteria.Ranks() {
		if ctx.Err() != nil {
			return OutcomeNoSeatRetry, 0
		}

		c, err := p.eval.Check(ctx, view, rank)
		if err != nil {
			unreadableTotal.Inc()
			if isDialogFault(err) {
				return OutcomeUnknown, rank
			}
			log.WithError(err).Debug(T("rank_unreadable", rank))
			continue
		}

		log.WithFields(logrus.Fields{
			"state":    stateAttempting,
			"rank":     rank,
			"seat":     c.Seat,
			"waitlist": c.Waitlist,
		}).Debug("candidate")

		outcome := p.attempt.AttemptBook(ctx, view, rank, c.Seat)
		if !outcome.Terminal() && outcome != OutcomeUnknown && p.criteria.Waitlist() {
			outcome = p.attempt.AttemptWaitlist(ctx, view, rank, c.Waitlist)
		}
		if outcome.Terminal() || outcome == OutcomeUnknown {
			return outcome, rank
		}
		if c.Seat != SlotAvailable {
			log.Debug(T("rank_sold_out", rank))
		}
	}

	return OutcomeNoSeatRetry, 0
}

// refreshOrSearch reloads the results in place. A dialog during the refresh
// leaves the results page usable once it is dismissed; any other failure
// means the page is gone and a new search is needed.
func (p *Poller) refreshOrSearch(ctx context.Context, log *logrus.Entry, view *ResultsView, state *runState) pollState {
	err := p.refresh.WaitAndRefresh(ctx, view, state)
	switch {
	case err == nil:
		return stateEvaluating
	case ctx.Err() != nil:
		return stateSearching
	case isDialogFault(err):
		state.needsDismiss = true
		return stateFaulted
	}
	log.WithError(err).Warn("refresh failed, searching again")
	return stateSearching
}

// dismiss accepts any open dialog. Failures are only logged: the next read
// reports the dialog again if it is still there.
func (p *Poller) dismiss(ctx context.Context, log *logrus.Entry, state *runState) {
	dismissed, err := p.port.DismissDialogIfPresent(ctx)
	if err != nil {
		log.WithError(err).Debug("dialog dismissal failed")
		return
	}
	if dismissed {
		log.Debug("dialog dismissed")
	}
	state.needsDismiss = false
}

func (p *Poller) notify(ctx context.Context, log *logrus.Entry, res RunResult) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.notifyTimeout)
	defer cancel()

	msg := T("notify_message", res.Outcome, res.Rank) + "\n" + T("notify_payment_deadline")
	if err := p.notifier.Notify(ctx, msg); err != nil {
		log.Warn(T("notify_failed", err))
	}
}

func (p *Poller) stopped(state *runState, log *logrus.Entry, err error) (RunResult, error) {
	res := p.result(state, "", 0)
	log.Info(T("run_stopped", res.String()))
	return res, err
}

func (p *Poller) result(state *runState, outcome AttemptOutcome, rank int) RunResult {
	return RunResult{
		RunID:     state.id,
		Booked:    outcome.Terminal(),
		Outcome:   outcome,
		Rank:      rank,
		Refreshes: state.refreshes,
		Elapsed:   time.Since(state.started),
	}
}
