package memorystore

import (
	"errors"

	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// SymbolState summarizes one symbol's series.
type SymbolState struct {
	Symbol    string
	Timeframe timeframe.TF
	Bars      int
	State     series.BarState
}
