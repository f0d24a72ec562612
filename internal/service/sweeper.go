package service

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// Expirer cancels stale pending orders
type Expirer interface {
	ExpireStaleOrders(ctx context.Context, limit int) (int, error)
}

// ExpirySweeper periodically cancels pending orders whose confirmation
// window has passed.
type ExpirySweeper struct {
	expirer   Expirer
	interval  time.Duration
	batchSize int
	logger    logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewExpirySweeper creates a sweeper that runs every interval
func NewExpirySweeper(expirer Expirer, interval time.Duration, batchSize int, logger logger.Logger) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ExpirySweeper{
		expirer:   expirer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return
	}

	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.logger.Info("Expiry sweeper started", "interval", s.interval, "batchSize", s.batchSize)
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.logger.Info("Expiry sweeper stopped")
}

func (s *ExpirySweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps batches until no stale order is left and returns the
// number of orders cancelled.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	total := 0

	for {
		n, err := s.expirer.ExpireStaleOrders(ctx, s.batchSize)
		total += n

		if err != nil {
			return total, err
		}

		if n < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Expired stale orders", "count", total)
	}

	return total, nil
}
