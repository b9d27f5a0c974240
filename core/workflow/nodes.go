package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	isoMillis  = "2006-01-02T15:04:05.000Z"
	stubTxHash = "0xstub"
	noResponse = "No response"
)

// ChatClient sends a single-message prompt to a chat-completion model.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// ChainClient reads chain state for web3 nodes.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

type triggerRunner struct{}

func (triggerRunner) NodeType() NodeType { return NodeTrigger }

func (triggerRunner) Run(context.Context, Node, *ExecutionContext) (any, error) {
	return map[string]any{"triggeredAt": time.Now().UTC().Format(isoMillis)}, nil
}

type actionRunner struct{}

func (actionRunner) NodeType() NodeType { return NodeAction }

func (actionRunner) Run(_ context.Context, node Node, _ *ExecutionContext) (any, error) {
	out := map[string]any{"status": "success"}
	if node.Data != nil {
		out["data"] = node.Data
	}
	return out, nil
}

// logicRunner yields the string "true" or "false".
type logicRunner struct{}

func (logicRunner) NodeType() NodeType { return NodeLogic }

func (logicRunner) Run(_ context.Context, node Node, ec *ExecutionContext) (any, error) {
	if expr, ok := node.Data["expression"].(string); ok && strings.TrimSpace(expr) != "" {
		val, err := Eval(expr, map[string]any{"input": ec.Input, "output": ec.Output})
		if err != nil {
			return nil, fmt.Errorf("evaluate expression: %w", err)
		}
		return boolString(Truthy(val)), nil
	}
	return boolString(Truthy(node.Data["condition"])), nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type aiRunner struct {
	chat ChatClient
}

func (aiRunner) NodeType() NodeType { return NodeAI }

func (r aiRunner) Run(ctx context.Context, node Node, ec *ExecutionContext) (any, error) {
	prompt, ok := node.Data["prompt"].(string)
	if !ok {
		return nil, errors.New("ai node requires a string prompt")
	}
	if r.chat == nil {
		return nil, errors.New("ai provider not configured")
	}
	rendered, err := renderPrompt(prompt, ec.Input)
	if err != nil {
		return nil, err
	}
	content, err := r.chat.Chat(ctx, rendered)
	if err != nil {
		return nil, err
	}
	if content == "" {
		content = noResponse
	}
	return map[string]any{"response": content}, nil
}

// renderPrompt substitutes the first {{input}} with the JSON run input.
func renderPrompt(prompt string, input map[string]any) (string, error) {
	if !strings.Contains(prompt, "{{input}}") {
		return prompt, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(input); err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	return strings.Replace(prompt, "{{input}}", strings.TrimSuffix(buf.String(), "\n"), 1), nil
}

type web3Runner struct {
	chain ChainClient
}

func (web3Runner) NodeType() NodeType { return NodeWeb3 }

func (r web3Runner) Run(ctx context.Context, node Node, _ *ExecutionContext) (any, error) {
	out := map[string]any{"txHash": stubTxHash}
	op, _ := node.Data["op"].(string)
	op = strings.ToLower(strings.TrimSpace(op))
	// ops need a chain client; without one the node stays a stub
	if op == "" || r.chain == nil {
		return out, nil
	}
	switch op {
	case "block":
		chainID, err := r.chain.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		number, err := r.chain.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("block number: %w", err)
		}
		out["chainId"] = chainID.String()
		out["blockNumber"] = number
	case "balance":
		addr, _ := node.Data["address"].(string)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address: %q", addr)
		}
		balance, err := r.chain.BalanceAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		out["address"] = common.HexToAddress(addr).Hex()
		out["balance"] = balance.String()
	default:
		return nil, fmt.Errorf("unknown web3 op: %s", op)
	}
	return out, nil
}
