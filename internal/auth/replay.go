package auth

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultConsumedStates = 4096

// stateLedger remembers callback states that have already been redeemed so
// a captured callback URL cannot be replayed while the PKCE cookies live.
type stateLedger struct {
	seen *lru.Cache[string, struct{}]
}

func newStateLedger(size int) (*stateLedger, error) {
	if size <= 0 {
		size = defaultConsumedStates
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &stateLedger{seen: cache}, nil
}

// consume marks state as used and reports whether this was its first use.
func (l *stateLedger) consume(state string) bool {
	found, _ := l.seen.ContainsOrAdd(state, struct{}{})
	return !found
}
