// Package memory keeps orders, stock and integration events in process
// memory. All data lives behind one lock; a transaction holds that lock for
// its whole duration and restores a snapshot when it fails.
package memory

import (
	"context"
	"sync"

	"github.com/vaidashi/storefront-orders/internal/models"
)

type txKey struct{}

type reviewKey struct {
	accountID string
	productID string
}

// Store is an in-memory backend for every repository the service uses
type Store struct {
	mu sync.Mutex

	orders      map[string]*models.Order
	orderSeq    map[string]int64
	products    map[string]*models.Product
	reviews     map[reviewKey]struct{}
	outbox      []*models.OutboxMessage
	deadLetters []*models.DeadLetterMessage
	seq         int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]*models.Order),
		orderSeq: make(map[string]int64),
		products: make(map[string]*models.Product),
		reviews:  make(map[reviewKey]struct{}),
	}
}

// WithinTx runs fn while holding the store lock. Changes made by fn are
// discarded when it returns an error.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}

	return nil
}

// lock acquires the store lock unless ctx already holds it through WithinTx.
// The returned function releases what was acquired.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

type snapshot struct {
	orders      map[string]*models.Order
	orderSeq    map[string]int64
	products    map[string]models.Product
	outbox      []models.OutboxMessage
	deadLetters []models.DeadLetterMessage
	seq         int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		orders:   make(map[string]*models.Order, len(s.orders)),
		orderSeq: make(map[string]int64, len(s.orderSeq)),
		products: make(map[string]models.Product, len(s.products)),
		seq:      s.seq,
	}

	for id, o := range s.orders {
		snap.orders[id] = o.Clone()
	}
	for id, n := range s.orderSeq {
		snap.orderSeq[id] = n
	}
	for id, p := range s.products {
		snap.products[id] = *p
	}
	for _, m := range s.outbox {
		snap.outbox = append(snap.outbox, *m)
	}
	for _, m := range s.deadLetters {
		snap.deadLetters = append(snap.deadLetters, *m)
	}

	return snap
}

func (s *Store) restore(snap snapshot) {
	s.orders = snap.orders
	s.orderSeq = snap.orderSeq
	s.seq = snap.seq

	s.products = make(map[string]*models.Product, len(snap.products))
	for id, p := range snap.products {
		p := p
		s.products[id] = &p
	}

	s.outbox = s.outbox[:0]
	for i := range snap.outbox {
		m := snap.outbox[i]
		s.outbox = append(s.outbox, &m)
	}

	s.deadLetters = s.deadLetters[:0]
	for i := range snap.deadLetters {
		m := snap.deadLetters[i]
		s.deadLetters = append(s.deadLetters, &m)
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Orders returns the order repository view of the store
func (s *Store) Orders() *OrderStore { return &OrderStore{s: s} }

// Products returns the inventory view of the store
func (s *Store) Products() *ProductStore { return &ProductStore{s: s} }

// Reviews returns the review view of the store
func (s *Store) Reviews() *ReviewStore { return &ReviewStore{s: s} }

// Outbox returns the outbox view of the store
func (s *Store) Outbox() *OutboxStore { return &OutboxStore{s: s} }

// DeadLetters returns the dead-letter view of the store
func (s *Store) DeadLetters() *DeadLetterStore { return &DeadLetterStore{s: s} }
