package memorystore

import (
	"fmt"
	"sync"
)

// MemorySymbolStore is the set of symbols being collected, in arrival order.
type MemorySymbolStore struct {
	mu      sync.Mutex
	symbols []string
	seen    map[string]struct{}
}

func NewSymbolStore() *MemorySymbolStore {
	return &MemorySymbolStore{
		symbols: make([]string, 0),
		seen:    make(map[string]struct{}),
	}
}

// Add records symbol and reports whether it was new.
func (s *MemorySymbolStore) Add(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[symbol]; ok {
		return false
	}
	s.seen[symbol] = struct{}{}
	s.symbols = append(s.symbols, symbol)
	return true
}

// StartWorker drains ch into the store. done is closed once ch is closed
// and every symbol has been added.
func (s *MemorySymbolStore) StartWorker(ch <-chan string) (done <-chan struct{}) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for symbol := range ch {
			s.Add(symbol)
		}
	}()
	return finished
}

func (s *MemorySymbolStore) GetAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// GetKlineTopics returns the websocket kline topic of every symbol.
func (s *MemorySymbolStore) GetKlineTopics(interval string) []string {
	symbols := s.GetAll()
	topics := make([]string, len(symbols))
	for i, sym := range symbols {
		topics[i] = fmt.Sprintf("kline.%s.%s", interval, sym)
	}
	return topics
}
