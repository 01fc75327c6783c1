package kite

import (
	"sync"
)

// instrumentMapper caches the symbol/token mapping from the exchange
// instrument dump so each symbol costs at most one dump fetch per process.
type instrumentMapper struct {
	symbolToToken map[string]uint32
	tokenToSymbol map[uint32]string
	mu            sync.RWMutex
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		symbolToToken: make(map[string]uint32),
		tokenToSymbol: make(map[uint32]string),
	}
}

func (im *instrumentMapper) addMapping(symbol string, token uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.symbolToToken[symbol] = token
	im.tokenToSymbol[token] = symbol
}

func (im *instrumentMapper) getToken(symbol string) (uint32, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	token, exists := im.symbolToToken[symbol]
	return token, exists
}

func (im *instrumentMapper) getSymbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	return im.tokenToSymbol[token]
}

func (im *instrumentMapper) size() int {
	im.mu.RLock()
	defer im.mu.RUnlock()

	return len(im.symbolToToken)
}
