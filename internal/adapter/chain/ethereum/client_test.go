package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	merchantWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	usdcContract   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

var chainID = big.NewInt(1)

type fakeBackend struct {
	head      uint64
	headers   map[uint64]*types.Header
	blocks    map[uint64]*types.Block
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log
	lastQuery *ethereum.FilterQuery
	err       error
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.err
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	h, ok := f.headers[n.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

func (f *fakeBackend) BlockByNumber(_ context.Context, n *big.Int) (*types.Block, error) {
	b, ok := f.blocks[n.Uint64()]
	if !ok {
		return types.NewBlockWithHeader(&types.Header{Number: n, Difficulty: big.NewInt(0)}), nil
	}
	return b, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = &q
	return f.logs, f.err
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return chainID, nil
}

func testConfig() Config {
	return Config{
		NativeCurrency: "eth",
		NativeDecimals: 18,
		Tokens:         []Token{{Currency: "usdc", Contract: usdcContract, Decimals: 6}},
	}
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func amountData(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestNew_InvalidTokenContract(t *testing.T) {
	_, err := New(&fakeBackend{}, Config{Tokens: []Token{{Currency: "USDC", Contract: "nope"}}})
	assert.ErrorContains(t, err, "invalid contract address")
}

func TestHeaderByNumber(t *testing.T) {
	parent := common.HexToHash("0x01")
	header := &types.Header{Number: big.NewInt(42), ParentHash: parent, Difficulty: big.NewInt(0)}
	c, err := New(&fakeBackend{headers: map[uint64]*types.Header{42: header}}, testConfig())
	require.NoError(t, err)

	ref, err := c.HeaderByNumber(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, uint64(42), ref.Number)
	assert.Equal(t, header.Hash().Hex(), ref.Hash)
	assert.Equal(t, parent.Hex(), ref.ParentHash)

	missing, err := c.HeaderByNumber(context.Background(), 43)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestBlock_Error(t *testing.T) {
	c, err := New(&fakeBackend{err: errors.New("dial tcp: refused")}, testConfig())
	require.NoError(t, err)

	_, err = c.LatestBlock(context.Background())
	assert.ErrorContains(t, err, "eth_blockNumber")
	assert.Error(t, c.Ping(context.Background()))
	assert.Equal(t, "chain", c.Name())
}

func TestTransfers_TokenLogs(t *testing.T) {
	sender := "0x00000000000000000000000000000000000000aa"
	other := "0x00000000000000000000000000000000000000bb"
	blockHash := common.HexToHash("0xb10c")
	contract := common.HexToAddress(usdcContract)

	backend := &fakeBackend{logs: []types.Log{
		{
			Address:     contract,
			Topics:      []common.Hash{transferTopic, addressTopic(sender), addressTopic(merchantWallet)},
			Data:        amountData(1_500_000),
			BlockNumber: 10,
			BlockHash:   blockHash,
			TxHash:      common.HexToHash("0x7a"),
			Index:       3,
		},
		{ // ERC-721 style transfer
			Address:     contract,
			Topics:      []common.Hash{transferTopic, addressTopic(sender), addressTopic(merchantWallet), common.HexToHash("0x1")},
			BlockNumber: 10,
			TxHash:      common.HexToHash("0x7b"),
		},
		{
			Address:     contract,
			Topics:      []common.Hash{transferTopic, addressTopic(sender), addressTopic(merchantWallet)},
			Data:        amountData(1),
			BlockNumber: 10,
			TxHash:      common.HexToHash("0x7c"),
			Removed:     true,
		},
		{
			Address:     contract,
			Topics:      []common.Hash{transferTopic, addressTopic(sender), addressTopic(other)},
			Data:        amountData(5),
			BlockNumber: 10,
			TxHash:      common.HexToHash("0x7d"),
		},
	}}
	cfg := testConfig()
	cfg.NativeCurrency = ""
	c, err := New(backend, cfg)
	require.NoError(t, err)

	transfers, err := c.Transfers(context.Background(), 10, 12, []string{merchantWallet})
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	got := transfers[0]
	assert.Equal(t, common.HexToHash("0x7a").Hex(), got.TxHash)
	assert.Equal(t, uint(3), got.LogIndex)
	assert.Equal(t, blockHash.Hex(), got.BlockHash)
	assert.Equal(t, merchantWallet, got.To)
	assert.Equal(t, common.HexToAddress(sender).Hex(), got.From)
	assert.Equal(t, "USDC", got.Currency)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1.5")), got.Amount.String())

	require.NotNil(t, backend.lastQuery)
	assert.Equal(t, []common.Address{contract}, backend.lastQuery.Addresses)
	assert.Equal(t, int64(10), backend.lastQuery.FromBlock.Int64())
	assert.Equal(t, int64(12), backend.lastQuery.ToBlock.Int64())
	require.Len(t, backend.lastQuery.Topics, 3)
	assert.Equal(t, []common.Hash{transferTopic}, backend.lastQuery.Topics[0])
	assert.Equal(t, []common.Hash{addressTopic(merchantWallet)}, backend.lastQuery.Topics[2])
}

func TestTransfers_NativeRequiresSuccessfulReceipt(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(chainID)
	recipient := common.HexToAddress(merchantWallet)
	elsewhere := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	sign := func(nonce uint64, to common.Address, wei *big.Int) *types.Transaction {
		tx, err := types.SignNewTx(key, signer, &types.LegacyTx{
			Nonce: nonce, To: &to, Value: wei, Gas: 21000, GasPrice: big.NewInt(1),
		})
		require.NoError(t, err)
		return tx
	}
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	paid := sign(0, recipient, oneEth)
	reverted := sign(1, recipient, oneEth)
	unrelated := sign(2, elsewhere, oneEth)
	zero := sign(3, recipient, big.NewInt(0))

	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(20), Difficulty: big.NewInt(0)}).
		WithBody(types.Body{Transactions: []*types.Transaction{unrelated, reverted, paid, zero}})

	backend := &fakeBackend{
		blocks: map[uint64]*types.Block{20: block},
		receipts: map[common.Hash]*types.Receipt{
			paid.Hash():     {Status: types.ReceiptStatusSuccessful},
			reverted.Hash(): {Status: types.ReceiptStatusFailed},
		},
	}
	cfg := testConfig()
	cfg.Tokens = nil
	c, err := New(backend, cfg)
	require.NoError(t, err)

	transfers, err := c.Transfers(context.Background(), 20, 20, []string{merchantWallet})
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	got := transfers[0]
	assert.Equal(t, paid.Hash().Hex(), got.TxHash)
	assert.Equal(t, uint(2), got.LogIndex)
	assert.Equal(t, block.Hash().Hex(), got.BlockHash)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), got.From)
	assert.Equal(t, "ETH", got.Currency)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(1)))
	assert.Nil(t, backend.lastQuery, "no token contracts configured")
}

func TestTransfers_OrderedByBlockAndIndex(t *testing.T) {
	contract := common.HexToAddress(usdcContract)
	log := func(block uint64, index uint, hash string) types.Log {
		return types.Log{
			Address:     contract,
			Topics:      []common.Hash{transferTopic, addressTopic("0x01"), addressTopic(merchantWallet)},
			Data:        amountData(1),
			BlockNumber: block,
			TxHash:      common.HexToHash(hash),
			Index:       index,
		}
	}
	backend := &fakeBackend{logs: []types.Log{log(12, 0, "0x03"), log(11, 5, "0x02"), log(11, 1, "0x01")}}
	cfg := testConfig()
	cfg.NativeCurrency = ""
	c, err := New(backend, cfg)
	require.NoError(t, err)

	transfers, err := c.Transfers(context.Background(), 11, 12, []string{merchantWallet})
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	assert.Equal(t, common.HexToHash("0x01").Hex(), transfers[0].TxHash)
	assert.Equal(t, common.HexToHash("0x02").Hex(), transfers[1].TxHash)
	assert.Equal(t, common.HexToHash("0x03").Hex(), transfers[2].TxHash)
}

func TestTransfers_NoRecipients(t *testing.T) {
	backend := &fakeBackend{}
	c, err := New(backend, testConfig())
	require.NoError(t, err)

	transfers, err := c.Transfers(context.Background(), 1, 5, nil)
	assert.NoError(t, err)
	assert.Nil(t, transfers)
	assert.Nil(t, backend.lastQuery)
}

func TestTransfers_FilterLogsError(t *testing.T) {
	c, err := New(&fakeBackend{err: errors.New("rate limited")}, testConfig())
	require.NoError(t, err)

	_, err = c.Transfers(context.Background(), 1, 5, []string{merchantWallet})
	assert.ErrorContains(t, err, "filter transfer logs 1-5")
}
