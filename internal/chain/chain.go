// Package chain submits proof payloads to the on-chain gateway
// contract and polls its event log to discover newly subscribed DIDs
// and bots. It wraps github.com/ethereum/go-ethereum the way
// certenIO's pkg/ethereum client does: a thin client over
// ethclient.Client plus ABI pack/unpack helpers, adapted here to the
// two payload shapes this system produces instead of arbitrary
// contract calls.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/primal-host/relaybridge/internal/didproof"
	"github.com/primal-host/relaybridge/internal/postproof"
)

// alreadyHandledSubstring is the revert reason the gateway contract
// returns when asked to replay a payload it has already processed.
// The submission pipeline treats this as a successful, idempotent
// outcome rather than a failure to retry.
const alreadyHandledSubstring = "Already handled"

// Client wraps an Ethereum JSON-RPC connection and the gateway
// contract's ABI.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	gatewayAddr common.Address
	gatewayABI  abi.ABI
}

// Config configures a new Client.
type Config struct {
	RPCURL      string
	ChainID     int64
	GatewayAddr string
	GatewayABI  string
}

// NewClient dials the configured JSON-RPC endpoint and parses the
// gateway contract's ABI.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(cfg.GatewayABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse gateway abi: %w", err)
	}
	return &Client{
		eth:         eth,
		chainID:     big.NewInt(cfg.ChainID),
		gatewayAddr: common.HexToAddress(cfg.GatewayAddr),
		gatewayABI:  parsedABI,
	}, nil
}

// Receipt is the outcome of submitting a proof payload.
type Receipt struct {
	TxHash         string
	BlockNumber    uint64
	AlreadyHandled bool
}

// SubmitPost sends a post-inclusion proof payload to the gateway's
// handlePost method.
func (c *Client) SubmitPost(ctx context.Context, payload *postproof.Payload, signerKeyHex string) (*Receipt, error) {
	return c.submit(ctx, signerKeyHex, "handlePost",
		payload.CommitNode,
		toInterfaceSlice(payload.Nodes),
		toUint8Slice(payload.NodeHints),
		toInterfaceSlice(payload.Content),
		payload.Sig[:],
	)
}

// SubmitDIDUpdate sends a DID-history proof payload to the gateway's
// registerUpdates method.
func (c *Client) SubmitDIDUpdate(ctx context.Context, payload *didproof.Payload) (*Receipt, error) {
	sigs := make([][]byte, len(payload.Sigs))
	for i, s := range payload.Sigs {
		sigs[i] = s[:]
	}
	return c.submit(ctx, "", "registerUpdates",
		payload.DID,
		toInterfaceSlice(payload.Ops),
		toInterfaceSlice(sigs),
		toInterfaceSlice(payload.Pubkeys),
		toIntSlice(payload.PubkeyIndexes),
	)
}

func (c *Client) submit(ctx context.Context, signerKeyHex, method string, params ...any) (*Receipt, error) {
	callData, err := c.gatewayABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse signer key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("chain: signer public key is not ECDSA")
	}
	fromAddress := crypto.PubkeyToAddress(*publicKeyECDSA)

	nonce, err := c.eth.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return nil, fmt.Errorf("chain: get nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: get gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: fromAddress, To: &c.gatewayAddr, Data: callData}
	gasLimit, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		if IsAlreadyHandled(err) {
			return &Receipt{AlreadyHandled: true}, nil
		}
		return nil, fmt.Errorf("chain: estimate gas for %s: %w", method, err)
	}

	tx := types.NewTransaction(nonce, c.gatewayAddr, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain: sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		if IsAlreadyHandled(err) {
			return &Receipt{AlreadyHandled: true, TxHash: signedTx.Hash().Hex()}, nil
		}
		return nil, fmt.Errorf("chain: send transaction: %w", err)
	}

	return &Receipt{TxHash: signedTx.Hash().Hex()}, nil
}

// IsAlreadyHandled reports whether err wraps the gateway's
// "Already handled" revert string — the idempotent-replay success
// signal this pipeline recognizes at the submission boundary.
func IsAlreadyHandled(err error) bool {
	return err != nil && strings.Contains(err.Error(), alreadyHandledSubstring)
}

// Subscription is one row decoded from the gateway's subscription
// event log, used to populate the database bookkeeping of watched
// DIDs and bots.
type Subscription struct {
	DID         string
	Bot         string
	BlockNumber uint64
	TxHash      string
}

// PollSubscriptions filters the gateway's subscription-topic logs over
// [fromBlock, toBlock] and decodes each into a Subscription.
func (c *Client) PollSubscriptions(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]Subscription, error) {
	event, ok := c.gatewayABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("chain: gateway abi has no event %q", eventName)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.gatewayAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs: %w", err)
	}

	out := make([]Subscription, 0, len(logs))
	for _, l := range logs {
		values, err := event.Inputs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("chain: unpack %s: %w", eventName, err)
		}
		sub := Subscription{BlockNumber: l.BlockNumber, TxHash: l.TxHash.Hex()}
		for i, input := range event.Inputs.NonIndexed() {
			switch input.Name {
			case "did":
				if s, ok := values[i].(string); ok {
					sub.DID = s
				}
			case "bot":
				if s, ok := values[i].(string); ok {
					sub.Bot = s
				}
			}
		}
		out = append(out, sub)
	}
	return out, nil
}

func toInterfaceSlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func toUint8Slice(hints []int) []uint8 {
	out := make([]uint8, len(hints))
	for i, h := range hints {
		out[i] = uint8(h)
	}
	return out
}

func toIntSlice(hints []int) []*big.Int {
	out := make([]*big.Int, len(hints))
	for i, h := range hints {
		out[i] = big.NewInt(int64(h))
	}
	return out
}
