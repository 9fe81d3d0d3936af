package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
)

// GasUpdateRoutine refreshes a chain's gas price on an interval so the
// cached transactor stays close to network conditions between
// settlements. UpdateGasPrice is still called before every submission;
// the routine keeps the gauge metric and the auth warm.
type GasUpdateRoutine struct {
	client   *Client
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
	log      logger.Logger
}

// NewGasUpdateRoutine creates a gas price refresh routine for one chain.
func NewGasUpdateRoutine(client *Client, interval time.Duration, log logger.Logger) *GasUpdateRoutine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &GasUpdateRoutine{
		client:   client,
		interval: interval,
		log:      log,
	}
}

// Start begins the periodic updates.
func (r *GasUpdateRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return // Already running
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx)
}

// Stop halts the periodic updates.
func (r *GasUpdateRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running.
func (r *GasUpdateRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *GasUpdateRoutine) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Perform initial update
	r.update(ctx)

	for {
		select {
		case <-ticker.C:
			r.update(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasUpdateRoutine) update(ctx context.Context) {
	gasPrice, err := r.client.UpdateGasPrice(ctx)
	if err != nil {
		// A price above the cap is expected during fee spikes; the next
		// tick retries.
		r.log.DebugWithChain(r.client.ChainID, "Gas price update failed: %v", err)
		return
	}

	gasPriceFloat, _ := new(big.Float).SetInt(gasPrice).Float64()
	metrics.GasPrice.WithLabelValues(fmt.Sprintf("%d", r.client.ChainID)).Set(gasPriceFloat)
}
