package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Evaluator reads the seat and waitlist cells of a ranked result row.
// It never clicks anything.
type Evaluator struct {
	port    BrowserPort
	sel     SelectorConfig
	markers MarkerConfig
}

func NewEvaluator(port BrowserPort, config *Config) *Evaluator {
	return &Evaluator{port: port, sel: config.Selectors, markers: config.Markers}
}

// Evaluate classifies the two cells of row rank. Cells that cannot be read
// are reported as SlotUnreadable.
func (e *Evaluator) Evaluate(ctx context.Context, view *ResultsView, rank int) (seat, waitlist SlotState) {
	c, _ := e.Check(ctx, view, rank)
	return c.Seat, c.Waitlist
}

// Check is Evaluate returning the read fault. The error, when set, is an
// *UnreadableCandidateError and both states are SlotUnreadable.
func (e *Evaluator) Check(ctx context.Context, view *ResultsView, rank int) (Candidate, error) {
	unreadable := Candidate{Rank: rank, Seat: SlotUnreadable, Waitlist: SlotUnreadable}

	seatText, err := e.port.FindText(ctx, fmt.Sprintf(e.sel.SeatCell, rank))
	if err != nil {
		return unreadable, &UnreadableCandidateError{Rank: rank, Err: err}
	}
	waitText, err := e.port.FindText(ctx, fmt.Sprintf(e.sel.WaitlistCell, rank))
	if err != nil {
		return unreadable, &UnreadableCandidateError{Rank: rank, Err: err}
	}

	return Candidate{
		Rank:     rank,
		Seat:     e.classify(rank, "seat", seatText, e.markers.Book),
		Waitlist: e.classify(rank, "waitlist", waitText, e.markers.Waitlist),
	}, nil
}

func (e *Evaluator) classify(rank int, cell, text, affordance string) SlotState {
	state, known := classifyCell(text, affordance, e.markers.SoldOut)
	if !known {
		Log.WithFields(logrus.Fields{"rank": rank, "cell": cell, "text": text}).Debug("unrecognised cell, treating as sold out")
	}
	return state
}

// classifyCell reports the slot state of a cell and whether its text was one
// of the known markers. Blank or unknown text is sold out.
func classifyCell(text, affordance, soldOut string) (SlotState, bool) {
	switch {
	case affordance != "" && strings.Contains(text, affordance):
		return SlotAvailable, true
	case soldOut != "" && strings.Contains(text, soldOut):
		return SlotSoldOut, true
	}
	return SlotSoldOut, false
}
