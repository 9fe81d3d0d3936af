package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/chainclient"
	"github.com/vaultpay-hq/facilitator/pkg/circuitbreaker"
	"github.com/vaultpay-hq/facilitator/pkg/config"
	"github.com/vaultpay-hq/facilitator/pkg/domains"
	"github.com/vaultpay-hq/facilitator/pkg/ledger"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
	"github.com/vaultpay-hq/facilitator/pkg/nonces"
	"github.com/vaultpay-hq/facilitator/pkg/queue"
	"github.com/vaultpay-hq/facilitator/pkg/vault"
)

// cleanupInterval is how often terminal queue records are checked against
// the retention window.
const cleanupInterval = time.Hour

// gasUpdateInterval is how often each chain's gas price is refreshed
// between settlements.
const gasUpdateInterval = time.Minute

// Service wires the facilitator together: per-chain clients and vaults,
// the scheme registry, the settlement queue and the batch settler. One
// Service owns one queue; tests construct isolated instances.
type Service struct {
	config   *config.Config
	log      logger.Logger
	queue    *queue.Queue
	cache    *nonces.Cache
	registry *Registry
	settler  *Settler
	clients  map[int]*chainclient.Client
	vaults   map[int]vault.Vault
	routines []*chainclient.GasUpdateRoutine
}

// NewService connects to every configured chain and builds the
// validation and settlement pipeline.
func NewService(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	clients := make(map[int]*chainclient.Client)
	vaults := make(map[int]vault.Vault)
	tokens := make(map[int]Token)
	breakers := make(map[int]*circuitbreaker.CircuitBreaker)
	for chainID, chainConfig := range cfg.Chains {
		client, err := chainclient.New(ctx, chainConfig, cfg.PrivateKey, cfg.MaxGasPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to chain %d: %v", chainID, err)
		}
		clients[chainID] = client

		pool, err := vault.NewOnchain(chainID, chainConfig.VaultAddress, chainConfig.TokenAddress,
			client.Client, client.Auth, cfg.SettleTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to bind vault on chain %d: %v", chainID, err)
		}
		vaults[chainID] = pool
		tokens[chainID] = NewChainToken(client, cfg.SettleTimeout, log)

		breakers[chainID] = circuitbreaker.NewCircuitBreaker(
			chainID,
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			log,
		)
		log.InfoWithChain(chainID, "Connected to %s, vault %s", chainConfig.Name, chainConfig.VaultAddress)
	}

	q := queue.New()
	cache := nonces.New()
	resolver := domains.NewResolver(log)

	exactSettler := NewExactSettler(tokens, resolver, cache, log)
	batchSettler := NewSettler(q, vaults, cache, breakers, log)

	if cfg.AccountingPath != "" {
		book, err := ledger.Open(cfg.AccountingPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open accounting book: %v", err)
		}
		exactSettler.SetBook(book)
		batchSettler.SetBook(book)
	}

	registry := NewRegistry()
	registry.Register(exactSettler)
	registry.Register(NewDeferredValidator(q, vaults, cache, log))

	routines := make([]*chainclient.GasUpdateRoutine, 0, len(clients))
	for _, client := range clients {
		routines = append(routines, chainclient.NewGasUpdateRoutine(client, gasUpdateInterval, log))
	}

	return &Service{
		config:   cfg,
		log:      log,
		queue:    q,
		cache:    cache,
		registry: registry,
		settler:  batchSettler,
		clients:  clients,
		vaults:   vaults,
		routines: routines,
	}, nil
}

// Start runs the settle and retention loops until the context is done.
func (s *Service) Start(ctx context.Context) {
	for _, routine := range s.routines {
		routine.Start(ctx)
		defer routine.Stop()
	}

	s.log.Info("Starting batch settler with interval %v", s.config.SettleInterval)
	settleTicker := time.NewTicker(s.config.SettleInterval)
	defer settleTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Notice("Context cancelled, shutting down service")
			return
		case <-settleTicker.C:
			report := s.settler.Run(ctx)
			for _, group := range report.Groups {
				if group.Error != "" {
					s.log.ErrorWithChain(group.ChainID, "Settler run %s group %s: %s",
						report.RunID, group.Vault, group.Error)
				}
			}
		case <-cleanupTicker.C:
			removed := s.queue.Cleanup(s.config.Retention)
			if removed > 0 {
				metrics.RecordsCleaned.Add(float64(removed))
				s.log.Info("Retention cleanup removed %d terminal records", removed)
			}
		}
	}
}

// Registry returns the scheme registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Settler returns the batch settler.
func (s *Service) Settler() *Settler {
	return s.settler
}

// Queue returns the settlement queue.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Clients returns the chain clients per chain id.
func (s *Service) Clients() map[int]*chainclient.Client {
	return s.clients
}

// Vaults returns the configured vault per chain id.
func (s *Service) Vaults() map[int]vault.Vault {
	return s.vaults
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.config
}
