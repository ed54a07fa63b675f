package app

import (
	"context"
	"sync"

	"github.com/circlepot/rosca-service/internal/domain"
)

type inFlightKey struct{ engine string }

// guard serializes an engine's operations and rejects calls that arrive on a context
// already carrying that engine's in-flight marker.
type guard struct {
	mu     sync.Mutex
	engine string
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	key := inFlightKey{engine: g.engine}
	if ctx.Value(key) != nil {
		return ctx, func() {}, domain.ErrReentrantCall
	}
	g.mu.Lock()
	return context.WithValue(ctx, key, true), g.mu.Unlock, nil
}
