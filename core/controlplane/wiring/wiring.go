// Package wiring builds the stores and node providers shared by the API
// gateway and the retry worker.
package wiring

import (
	"context"
	"fmt"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	"github.com/nodeflow/nodeflow/core/infra/pgutil"
	"github.com/nodeflow/nodeflow/core/users"
	wf "github.com/nodeflow/nodeflow/core/workflow"
	"github.com/nodeflow/nodeflow/packages/providers/ethrpc"
	"github.com/nodeflow/nodeflow/packages/providers/openai"
	"github.com/redis/go-redis/v9"
)

// Stores groups the persistence backends selected by NODEFLOW_STORE.
type Stores struct {
	Workflows wf.Store
	Runs      wf.RunStore
	Profiles  users.Store
	Backend   string

	close func()
}

// Close releases the backend connection pool, if the stores own one.
func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStores returns Redis-backed stores over client, or Postgres-backed
// stores when cfg selects the postgres backend.
func OpenStores(ctx context.Context, cfg *config.Config, client redis.UniversalClient) (*Stores, error) {
	if cfg.StoreBackend != config.StorePostgres {
		rs := wf.NewRedisStore(client)
		return &Stores{
			Workflows: rs,
			Runs:      rs,
			Profiles:  users.NewRedisStore(client),
			Backend:   config.StoreRedis,
		}, nil
	}

	pool, err := pgutil.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	wfStore := wf.NewPostgresStore(pool)
	profiles := users.NewPostgresStore(pool)
	if err := wfStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("workflow schema: %w", err)
	}
	if err := profiles.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile schema: %w", err)
	}
	return &Stores{
		Workflows: wfStore,
		Runs:      wfStore,
		Profiles:  profiles,
		Backend:   config.StorePostgres,
		close:     pool.Close,
	}, nil
}

// Providers builds the chat and chain clients used by ai and web3 nodes.
// The returned func closes the chain connection.
func Providers(ctx context.Context, cfg *config.Config) (wf.Providers, func()) {
	p := wf.Providers{
		Chat: openai.New(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel),
	}
	if cfg.OpenAIKey == "" {
		logging.Info("wiring", "OPENAI_API_KEY not set; ai nodes will fail until configured")
	}
	if cfg.Web3RPCURL == "" {
		return p, func() {}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chain, err := ethrpc.Dial(dialCtx, cfg.Web3RPCURL)
	if err != nil {
		logging.Error("wiring", "web3 rpc unavailable", "error", err)
		return p, func() {}
	}
	p.Chain = chain
	return p, chain.Close
}
