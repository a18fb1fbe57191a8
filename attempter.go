package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Attempter clicks the reserve or waitlist link of a ranked row and reports
// what happened.
type Attempter struct {
	port   BrowserPort
	sel    SelectorConfig
	settle time.Duration
	sleep  sleepFunc
}

func NewAttempter(port BrowserPort, config *Config) *Attempter {
	return &Attempter{
		port:   port,
		sel:    config.Selectors,
		settle: config.Pacing.attemptSettle(),
		sleep:  sleepCtx,
	}
}

// AttemptBook tries to reserve the seat of rank. A dialog at any step yields
// OutcomeUnknown since the reservation state can no longer be read.
func (a *Attempter) AttemptBook(ctx context.Context, view *ResultsView, rank int, seat SlotState) AttemptOutcome {
	outcome := a.attemptBook(ctx, rank, seat)
	recordAttempt("book", outcome)
	return outcome
}

func (a *Attempter) attemptBook(ctx context.Context, rank int, seat SlotState) AttemptOutcome {
	if seat != SlotAvailable {
		return OutcomeNoSeatRetry
	}
	log := Log.WithField("rank", rank)
	link := fmt.Sprintf(a.sel.BookLink, rank)

	Log.Info(T("book_clicking", rank))
	if err := a.port.Click(ctx, link); err != nil {
		if isDialogFault(err) {
			return OutcomeUnknown
		}
		log.WithError(err).Debug("click failed, pressing enter")
		if err := a.port.PressEnter(ctx, link); err != nil {
			if isDialogFault(err) {
				return OutcomeUnknown
			}
			log.WithError(err).Warn("reserve link could not be activated")
			return OutcomeTransientRetry
		}
	}

	if err := a.sleep(ctx, a.settle); err != nil {
		return OutcomeTransientRetry
	}

	confirmed, err := a.port.Exists(ctx, a.sel.BookingConfirmed)
	if err != nil {
		return faultOutcome(log, err, "confirmation check failed")
	}
	if confirmed {
		Log.Info(T("book_confirmed", rank))
		return OutcomeBooked
	}

	Log.Info(T("book_taken", rank))
	if err := a.port.Back(ctx); err != nil {
		return faultOutcome(log, err, "could not return to results")
	}
	return OutcomeNoSeatRetry
}

// AttemptWaitlist applies for the waitlist of rank. A successful click is
// taken as registration; the site shows no confirmation marker for it.
func (a *Attempter) AttemptWaitlist(ctx context.Context, view *ResultsView, rank int, waitlist SlotState) AttemptOutcome {
	outcome := a.attemptWaitlist(ctx, rank, waitlist)
	recordAttempt("waitlist", outcome)
	return outcome
}

func (a *Attempter) attemptWaitlist(ctx context.Context, rank int, waitlist SlotState) AttemptOutcome {
	if waitlist != SlotAvailable {
		return OutcomeNoSeatRetry
	}
	log := Log.WithField("rank", rank)

	if err := a.port.Click(ctx, fmt.Sprintf(a.sel.WaitlistLink, rank)); err != nil {
		return faultOutcome(log, err, "waitlist link could not be clicked")
	}

	Log.Info(T("waitlist_registered", rank))
	return OutcomeWaitlisted
}

func faultOutcome(log *logrus.Entry, err error, msg string) AttemptOutcome {
	if isDialogFault(err) {
		return OutcomeUnknown
	}
	log.WithError(err).Warn(msg)
	return OutcomeTransientRetry
}
