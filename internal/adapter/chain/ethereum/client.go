// Package ethereum reads blocks and incoming payments from an EVM JSON-RPC node.
package ethereum

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Backend is the subset of *ethclient.Client the adapter calls.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Token is an ERC-20 contract accepted for payment.
type Token struct {
	Currency string
	Contract string
	Decimals int32
}

// Config selects which value movements count as payments.
type Config struct {
	NativeCurrency string // empty disables native transfers
	NativeDecimals int32
	Tokens         []Token
}

type token struct {
	currency string
	decimals int32
}

// Client implements ports.ChainClient and ports.HealthChecker.
type Client struct {
	backend Backend
	closer  func()

	native         string
	nativeDecimals int32
	tokens         map[common.Address]token
	contracts      []common.Address

	signerMu sync.Mutex
	signer   types.Signer
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := New(cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	c.closer = cli.Close
	return c, nil
}

// New wraps an existing backend.
func New(backend Backend, cfg Config) (*Client, error) {
	c := &Client{
		backend:        backend,
		native:         strings.ToUpper(cfg.NativeCurrency),
		nativeDecimals: cfg.NativeDecimals,
		tokens:         make(map[common.Address]token, len(cfg.Tokens)),
	}
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t.Contract) {
			return nil, fmt.Errorf("token %s: invalid contract address %q", t.Currency, t.Contract)
		}
		addr := common.HexToAddress(t.Contract)
		c.tokens[addr] = token{currency: strings.ToUpper(t.Currency), decimals: t.Decimals}
		c.contracts = append(c.contracts, addr)
	}
	return c, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

// HeaderByNumber returns nil, nil for a height the node does not have yet.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*domain.BlockRef, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("header %d: %w", number, err)
	}
	return &domain.BlockRef{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash().Hex(),
		ParentHash: h.ParentHash.Hex(),
	}, nil
}

// Transfers returns token Transfer logs and successful native transfers to
// recipients within [from, to], ordered by block and log index.
func (c *Client) Transfers(ctx context.Context, from, to uint64, recipients []string) ([]domain.Transfer, error) {
	if len(recipients) == 0 || from > to {
		return nil, nil
	}
	wanted := make(map[common.Address]struct{}, len(recipients))
	for _, r := range recipients {
		if common.IsHexAddress(r) {
			wanted[common.HexToAddress(r)] = struct{}{}
		}
	}

	transfers, err := c.tokenTransfers(ctx, from, to, wanted)
	if err != nil {
		return nil, err
	}
	if c.native != "" {
		native, err := c.nativeTransfers(ctx, from, to, wanted)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, native...)
	}

	slices.SortFunc(transfers, func(a, b domain.Transfer) int {
		if n := cmp.Compare(a.BlockNumber, b.BlockNumber); n != 0 {
			return n
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})
	return transfers, nil
}

func (c *Client) tokenTransfers(ctx context.Context, from, to uint64, wanted map[common.Address]struct{}) ([]domain.Transfer, error) {
	if len(c.contracts) == 0 {
		return nil, nil
	}
	topics := make([]common.Hash, 0, len(wanted))
	for addr := range wanted {
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.contracts,
		Topics:    [][]common.Hash{{transferTopic}, nil, topics},
	})
	if err != nil {
		return nil, fmt.Errorf("filter transfer logs %d-%d: %w", from, to, err)
	}

	var out []domain.Transfer
	for _, l := range logs {
		// ERC-721 Transfer has four topics and no data; skip it and removed logs.
		if l.Removed || len(l.Topics) != 3 || len(l.Data) != 32 {
			continue
		}
		t, ok := c.tokens[l.Address]
		if !ok {
			continue
		}
		recipient := common.BytesToAddress(l.Topics[2].Bytes())
		if _, ok := wanted[recipient]; !ok {
			continue
		}
		out = append(out, domain.Transfer{
			TxHash:      l.TxHash.Hex(),
			LogIndex:    l.Index,
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash.Hex(),
			From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			To:          recipient.Hex(),
			Currency:    t.currency,
			Amount:      decimal.NewFromBigInt(new(big.Int).SetBytes(l.Data), -t.decimals),
		})
	}
	return out, nil
}

// nativeTransfers walks each block body; a transfer counts only when its receipt succeeded.
func (c *Client) nativeTransfers(ctx context.Context, from, to uint64, wanted map[common.Address]struct{}) ([]domain.Transfer, error) {
	signer, err := c.txSigner(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Transfer
	for n := from; n <= to; n++ {
		block, err := c.backend.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}
		for i, tx := range block.Transactions() {
			if tx.To() == nil || tx.Value().Sign() <= 0 {
				continue
			}
			if _, ok := wanted[*tx.To()]; !ok {
				continue
			}
			receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				return nil, fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				continue
			}

			var sender string
			if addr, err := types.Sender(signer, tx); err == nil {
				sender = addr.Hex()
			}
			out = append(out, domain.Transfer{
				TxHash:      tx.Hash().Hex(),
				LogIndex:    uint(i),
				BlockNumber: n,
				BlockHash:   block.Hash().Hex(),
				From:        sender,
				To:          tx.To().Hex(),
				Currency:    c.native,
				Amount:      decimal.NewFromBigInt(tx.Value(), -c.nativeDecimals),
			})
		}
	}
	return out, nil
}

// txSigner resolves the chain ID once it has been fetched successfully.
func (c *Client) txSigner(ctx context.Context) (types.Signer, error) {
	c.signerMu.Lock()
	defer c.signerMu.Unlock()

	if c.signer != nil {
		return c.signer, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	c.signer = types.LatestSignerForChainID(id)
	return c.signer, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.backend.BlockNumber(ctx)
	return err
}

func (c *Client) Name() string {
	return "chain"
}
