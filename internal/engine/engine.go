// Package engine owns project membership and lifecycle: who is in which
// project, capacity and approval rules, reward payout and project teardown.
// Every change that touches both registries goes through one store transaction.
package engine

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"activist-bot/internal/store"
)

// MediaRemover deletes stored preview images.
type MediaRemover interface {
	Remove(path string) error
}

type noMedia struct{}

func (noMedia) Remove(string) error { return nil }

type Engine struct {
	st    *store.Store
	media MediaRemover
	log   *zap.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type Option func(*Engine)

func WithMedia(m MediaRemover) Option {
	return func(e *Engine) { e.media = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRand fixes the source used for project ids.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rnd = r }
}

func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		st:    st,
		media: noMedia{},
		log:   zap.NewNop(),
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) intn(n int) int {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.rnd.Intn(n)
}
