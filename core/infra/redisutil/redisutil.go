package redisutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodeflow/nodeflow/core/infra/tlsenv"
)

// DefaultURL is used when REDIS_URL is unset.
const DefaultURL = "redis://localhost:6379"

// envClusterAddrs switches the client to cluster mode when it lists more
// than one node.
const envClusterAddrs = "REDIS_CLUSTER_ADDRESSES"

const pingTimeout = 2 * time.Second

// Connect opens the shared client used by the workflow, user, run and job
// stores, and checks it with a PING.
func Connect(url string) (redis.UniversalClient, error) {
	opts, err := Options(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// Options turns url plus the REDIS_TLS_* and REDIS_CLUSTER_ADDRESSES
// environment into universal client options.
func Options(url string) (*redis.UniversalOptions, error) {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := tlsenv.FromEnv("REDIS").Client(parsed.TLSConfig)
	if err != nil {
		return nil, err
	}
	addrs := splitAddrs(os.Getenv(envClusterAddrs))
	if len(addrs) == 0 {
		addrs = []string{parsed.Addr}
	}
	return &redis.UniversalOptions{
		Addrs:     addrs,
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: tlsCfg,
	}, nil
}

func splitAddrs(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
