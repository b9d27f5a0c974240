// Package ethrpc wraps go-ethereum's ethclient for read-only chain queries.
package ethrpc

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	url     string
	rpc     *ethclient.Client
	timeout time.Duration
}

// Dial connects to an Ethereum JSON-RPC endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("web3 rpc url required")
	}
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{url: url, rpc: rpc, timeout: defaultTimeout}, nil
}

// NewFromEnv dials WEB3_RPC_URL. It returns nil without error when the
// variable is unset so callers can leave web3 nodes unconfigured.
func NewFromEnv(ctx context.Context) (*Client, error) {
	url := os.Getenv("WEB3_RPC_URL")
	if url == "" {
		return nil, nil
	}
	return Dial(ctx, url)
}

func (c *Client) URL() string { return c.url }

func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// BalanceAt returns the latest balance in wei.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	bal, err := c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return bal, nil
}
