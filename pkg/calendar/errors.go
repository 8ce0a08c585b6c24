package calendar

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrScheduleConstruction means the schedule source kept returning a
	// schedule too short for the request after every expansion attempt.
	ErrScheduleConstruction = errors.New("calendar schedule construction failed")
	// ErrUnknownCalendar is returned for a token that was never requested.
	ErrUnknownCalendar = errors.New("calendar is not loaded into the cache")
	// ErrNoStride is returned for tick timeframes, which have no time step.
	ErrNoStride = errors.New("timeframe has no time stride")
)

// ScheduleError describes an exhausted retry-and-expand loop.
type ScheduleError struct {
	Token    Token
	Start    time.Time
	End      time.Time
	Periods  int
	Attempts int
	First    time.Time
	Last     time.Time
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf(
		"%s: token=%s start=%s end=%s periods=%d attempts=%d schedule=[%s, %s]",
		ErrScheduleConstruction,
		e.Token,
		e.Start.Format(time.RFC3339),
		e.End.Format(time.RFC3339),
		e.Periods,
		e.Attempts,
		e.First.Format(time.DateOnly),
		e.Last.Format(time.DateOnly),
	)
}

func (e *ScheduleError) Unwrap() error {
	return ErrScheduleConstruction
}
