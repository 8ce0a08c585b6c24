package series

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData is logged when a batch is too short to infer a timeframe.
	ErrInsufficientData = errors.New("at least two records are required to infer a timeframe")
	// ErrFormat is the sentinel behind every *FormatError.
	ErrFormat = errors.New("series format error")
	// ErrRewind is returned by Whitespace.NextAfter for a time before the window.
	ErrRewind = errors.New("whitespace window does not support rewinding")
)

// FormatError reports a record set whose columns cannot be mapped onto bar fields.
type FormatError struct {
	Field   string
	Columns []string
	Row     int // 1-based, zero when not tied to a row
	Reason  string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(ErrFormat.Error())
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if len(e.Columns) > 0 {
		fmt.Fprintf(&b, " columns=[%s]", strings.Join(e.Columns, ", "))
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row=%d", e.Row)
	}
	return b.String()
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}
