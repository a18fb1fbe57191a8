package main

import (
	"fmt"
	"time"
)

// Criteria is one validated itinerary. Build it with NewCriteria; the zero
// value is not usable.
type Criteria struct {
	departure string
	arrival   string
	date      string
	day       time.Time
	hour      string
	ranks     []int
	waitlist  bool
}

// NewCriteria validates the itinerary inputs once. Every failure is a
// ValidationError and is raised before any browser work starts.
func NewCriteria(departure, arrival, date, hour string, ranks []int, waitlist bool) (*Criteria, error) {
	if !IsKnownStation(departure) {
		return nil, &InvalidStationNameError{Role: "departure", Name: departure}
	}
	if !IsKnownStation(arrival) {
		return nil, &InvalidStationNameError{Role: "arrival", Name: arrival}
	}
	if departure == arrival {
		return nil, &InvalidStationNameError{Role: "arrival", Name: arrival, SameAsDeparture: true}
	}

	canonical, day, err := ParseTravelDate(date)
	if err != nil {
		return nil, err
	}

	h, err := ParseDepartureHour(hour)
	if err != nil {
		return nil, err
	}

	if len(ranks) == 0 {
		return nil, &InvalidRankError{Reason: "at least one train rank is required"}
	}
	seen := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		if r < 1 {
			return nil, &InvalidRankError{Rank: r, Reason: "ranks are 1-based"}
		}
		if seen[r] {
			return nil, &InvalidRankError{Rank: r, Reason: "duplicate rank"}
		}
		seen[r] = true
	}

	return &Criteria{
		departure: departure,
		arrival:   arrival,
		date:      canonical,
		day:       day,
		hour:      h,
		ranks:     append([]int(nil), ranks...),
		waitlist:  waitlist,
	}, nil
}

func (c *Criteria) Departure() string { return c.departure }
func (c *Criteria) Arrival() string   { return c.arrival }

// Date is the departure date in YYYYMMDD form.
func (c *Criteria) Date() string { return c.date }

// Day is the departure date as a time at midnight UTC.
func (c *Criteria) Day() time.Time { return c.day }

// Hour is the two-digit earliest departure hour.
func (c *Criteria) Hour() string { return c.hour }

// Ranks returns a copy of the result-table ranks in priority order.
func (c *Criteria) Ranks() []int { return append([]int(nil), c.ranks...) }

func (c *Criteria) Waitlist() bool { return c.waitlist }

func (c *Criteria) String() string {
	return fmt.Sprintf("%s -> %s on %s from %s:00, ranks %v, waitlist=%v",
		c.departure, c.arrival, c.date, c.hour, c.ranks, c.waitlist)
}

// Credentials are supplied when a run starts and are never written anywhere.
type Credentials struct {
	ID       string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ID: %q, Password: ***}", c.ID)
}

// Valid reports whether both fields are present.
func (c Credentials) Valid() bool {
	return c.ID != "" && c.Password != ""
}

// ValidationError is implemented by every itinerary validation failure.
type ValidationError interface {
	error
	validation()
}

type InvalidStationNameError struct {
	Role            string
	Name            string
	SameAsDeparture bool
}

func (e *InvalidStationNameError) Error() string {
	if e.SameAsDeparture {
		return fmt.Sprintf("invalid %s station %q: same as departure", e.Role, e.Name)
	}
	return fmt.Sprintf("invalid %s station %q: not an SRT station", e.Role, e.Name)
}

func (*InvalidStationNameError) validation() {}

// InvalidDateFormatError means the date is not written as YYYYMMDD.
type InvalidDateFormatError struct {
	Value string
}

func (e *InvalidDateFormatError) Error() string {
	return fmt.Sprintf("invalid date format %q: use digits only, YYYYMMDD (e.g. 20251126)", e.Value)
}

func (*InvalidDateFormatError) validation() {}

// InvalidDateError means the date is well formed but not a calendar day.
type InvalidDateError struct {
	Value string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: no such calendar day", e.Value)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

func (*InvalidDateError) validation() {}

type InvalidTimeFormatError struct {
	Value string
}

func (e *InvalidTimeFormatError) Error() string {
	return fmt.Sprintf("invalid departure hour %q: use an even hour between 00 and 22 (e.g. 04)", e.Value)
}

func (*InvalidTimeFormatError) validation() {}

type InvalidRankError struct {
	Rank   int
	Reason string
}

func (e *InvalidRankError) Error() string {
	if e.Rank == 0 {
		return "invalid train ranks: " + e.Reason
	}
	return fmt.Sprintf("invalid train rank %d: %s", e.Rank, e.Reason)
}

func (*InvalidRankError) validation() {}
