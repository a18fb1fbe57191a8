package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func loadFixture(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := LoadSnapshot(filepath.Join("testdata", "results.html"))
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	return snap
}

func TestEvaluateSnapshot(t *testing.T) {
	eval := NewEvaluator(loadFixture(t), testConfig())
	ctx := context.Background()

	tests := []struct {
		rank         int
		wantSeat     SlotState
		wantWaitlist SlotState
	}{
		{1, SlotSoldOut, SlotSoldOut},
		{2, SlotAvailable, SlotSoldOut},
		{3, SlotSoldOut, SlotAvailable},
		{4, SlotSoldOut, SlotSoldOut},
		{9, SlotUnreadable, SlotUnreadable},
	}

	for _, tt := range tests {
		seat, waitlist := eval.Evaluate(ctx, &ResultsView{}, tt.rank)
		if seat != tt.wantSeat || waitlist != tt.wantWaitlist {
			t.Errorf("Evaluate(rank %d) = (%s, %s), want (%s, %s)",
				tt.rank, seat, waitlist, tt.wantSeat, tt.wantWaitlist)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	eval := NewEvaluator(loadFixture(t), testConfig())
	ctx := context.Background()

	for rank := 1; rank <= 5; rank++ {
		seat1, wait1 := eval.Evaluate(ctx, &ResultsView{}, rank)
		seat2, wait2 := eval.Evaluate(ctx, &ResultsView{}, rank)
		if seat1 != seat2 || wait1 != wait2 {
			t.Errorf("rank %d: first (%s, %s), second (%s, %s)", rank, seat1, wait1, seat2, wait2)
		}
	}
}

func TestCheckReportsUnreadable(t *testing.T) {
	cfg := testConfig()

	t.Run("missing row", func(t *testing.T) {
		c, err := NewEvaluator(loadFixture(t), cfg).Check(context.Background(), &ResultsView{}, 7)

		var unreadable *UnreadableCandidateError
		if !errors.As(err, &unreadable) {
			t.Fatalf("Check() error = %v, want *UnreadableCandidateError", err)
		}
		if unreadable.Rank != 7 {
			t.Errorf("Rank = %d, want 7", unreadable.Rank)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound in chain, got %v", err)
		}
		if c.Seat != SlotUnreadable || c.Waitlist != SlotUnreadable {
			t.Errorf("Check() = %+v, want both unreadable", c)
		}
	})

	t.Run("stale waitlist cell", func(t *testing.T) {
		port := newFakePort()
		port.texts[seatCell(cfg, 1)] = "예약하기"
		port.findErrs[waitlistCell(cfg, 1)] = []error{wrapFault(ErrStale, errors.New("node is detached"))}

		c, err := NewEvaluator(port, cfg).Check(context.Background(), &ResultsView{}, 1)
		if !errors.Is(err, ErrStale) {
			t.Fatalf("Check() error = %v, want ErrStale", err)
		}
		if c.Seat != SlotUnreadable {
			t.Errorf("a read fault on either cell makes the whole row unreadable, got seat %s", c.Seat)
		}
	})

	t.Run("dialog", func(t *testing.T) {
		port := newFakePort()
		port.findErrs[seatCell(cfg, 1)] = []error{dialogErr()}

		_, err := NewEvaluator(port, cfg).Check(context.Background(), &ResultsView{}, 1)
		if !isDialogFault(err) {
			t.Errorf("Check() error = %v, want a dialog fault", err)
		}
	})
}

func TestEvaluateNeverClicks(t *testing.T) {
	cfg := testConfig()
	port := newFakePort()
	port.texts[seatCell(cfg, 1)] = "예약하기"
	port.texts[waitlistCell(cfg, 1)] = "신청하기"

	NewEvaluator(port, cfg).Evaluate(context.Background(), &ResultsView{}, 1)

	for _, call := range port.calls {
		if !strings.HasPrefix(call, "find ") {
			t.Errorf("Evaluate made a non-read call: %s", call)
		}
	}
}

func TestClassifyCell(t *testing.T) {
	tests := []struct {
		text      string
		want      SlotState
		wantKnown bool
	}{
		{"예약하기", SlotAvailable, true},
		{"  예약하기 ", SlotAvailable, true},
		{"매진", SlotSoldOut, true},
		{"좌석매진", SlotSoldOut, true},
		{"", SlotSoldOut, false},
		{"입석+좌석", SlotSoldOut, false},
	}

	for _, tt := range tests {
		got, known := classifyCell(tt.text, "예약하기", "매진")
		if got != tt.want || known != tt.wantKnown {
			t.Errorf("classifyCell(%q) = (%s, %v), want (%s, %v)", tt.text, got, known, tt.want, tt.wantKnown)
		}
	}
}

func TestSnapshotIsReadOnly(t *testing.T) {
	snap := loadFixture(t)
	ctx := context.Background()

	if err := snap.Click(ctx, "input"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Click() error = %v, want ErrReadOnly", err)
	}
	if err := snap.Navigate(ctx, "https://example.com"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Navigate() error = %v, want ErrReadOnly", err)
	}

	text, err := snap.FindText(ctx, testConfig().Selectors.LoginMarker)
	if err != nil {
		t.Fatalf("FindText() error = %v", err)
	}
	if !strings.Contains(text, "환영합니다") {
		t.Errorf("FindText() = %q, want the welcome marker", text)
	}

	ok, err := snap.Exists(ctx, "#isFalseGotoMain")
	if err != nil || ok {
		t.Errorf("Exists(#isFalseGotoMain) = %v, %v; want false, nil", ok, err)
	}
}
