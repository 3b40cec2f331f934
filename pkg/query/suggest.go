package query

import (
	"context"
	"fmt"

	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// DefaultSuggestions is the number of names Suggest returns.
const DefaultSuggestions = 10

// Suggester completes protocol names from the autocomplete index.
type Suggester struct {
	store store.Store
	k     int
}

// NewSuggester returns a suggester yielding at most k names (DefaultSuggestions if k <= 0).
func NewSuggester(st store.Store, k int) *Suggester {
	if k <= 0 {
		k = DefaultSuggestions
	}
	return &Suggester{store: st, k: k}
}

// Suggest returns protocol names starting with prefix in lexicographic order.
func (s *Suggester) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = store.NormalizeProtocol(prefix)
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	if s.store == nil {
		return nil, ErrServiceUnavailable
	}
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	names, err := s.store.ProtocolNames(ctx, prefix, s.k)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest %q: %v", ErrQueryFailed, prefix, err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
