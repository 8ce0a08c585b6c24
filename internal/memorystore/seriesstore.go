package memorystore

import (
	"fmt"
	"sort"
	"sync"

	"tsengine/pkg/series"
)

// SeriesStore holds one bar store per symbol. Updates to the same symbol are
// serialized; different symbols proceed in parallel.
type SeriesStore struct {
	globalMu sync.RWMutex
	data     map[string]*symbolSeries
}

type symbolSeries struct {
	mu    sync.Mutex
	store *series.Store
}

func NewSeriesStore() *SeriesStore {
	return &SeriesStore{
		data: make(map[string]*symbolSeries),
	}
}

// Put installs st for symbol, clearing any store it replaces.
func (s *SeriesStore) Put(symbol string, st *series.Store) {
	s.globalMu.Lock()
	old, ok := s.data[symbol]
	s.data[symbol] = &symbolSeries{store: st}
	s.globalMu.Unlock()

	if ok {
		old.mu.Lock()
		old.store.Clear()
		old.mu.Unlock()
	}
}

func (s *SeriesStore) lookup(symbol string) (*symbolSeries, bool) {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	ss, ok := s.data[symbol]
	return ss, ok
}

// With runs fn while holding symbol's lock.
func (s *SeriesStore) With(symbol string, fn func(*series.Store) error) error {
	ss, ok := s.lookup(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return fn(ss.store)
}

// Snapshot returns the latest bar state for symbol.
func (s *SeriesStore) Snapshot(symbol string) (series.BarState, bool) {
	ss, ok := s.lookup(symbol)
	if !ok {
		return series.DefaultBarState(), false
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.store.Snapshot(), true
}

// GetAll returns every symbol's state, sorted by symbol.
func (s *SeriesStore) GetAll() []SymbolState {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	out := make([]SymbolState, 0, len(s.data))
	for sym, ss := range s.data {
		ss.mu.Lock()
		out = append(out, SymbolState{
			Symbol:    sym,
			Timeframe: ss.store.Timeframe(),
			Bars:      ss.store.Len(),
			State:     ss.store.Snapshot(),
		})
		ss.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Remove clears and drops symbol's store.
func (s *SeriesStore) Remove(symbol string) {
	s.globalMu.Lock()
	ss, ok := s.data[symbol]
	delete(s.data, symbol)
	s.globalMu.Unlock()

	if ok {
		ss.mu.Lock()
		ss.store.Clear()
		ss.mu.Unlock()
	}
}

// CountAll returns the total number of bars stored across all symbols.
func (s *SeriesStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, ss := range s.data {
		ss.mu.Lock()
		total += ss.store.Len()
		ss.mu.Unlock()
	}
	return total
}
