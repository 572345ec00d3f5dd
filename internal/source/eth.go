package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	erc20ABIJSON = `[
		{"inputs":[],"name":"decimals","outputs":[{"type":"uint8"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"symbol","outputs":[{"type":"string"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"totalSupply","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}]`

	weightedPoolABIJSON = `[
		{"inputs":[{"type":"address"}],"name":"getBalance","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"type":"address"}],"name":"getNormalizedWeight","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}]`

	pairABIJSON = `[
		{"inputs":[],"name":"token0","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"token1","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"getReserves","outputs":[{"type":"uint112"},{"type":"uint112"},{"type":"uint32"}],"stateMutability":"view","type":"function"}]`

	lendingABIJSON = `[
		{"inputs":[],"name":"accrualBlockNumber","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"exchangeRateStored","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"supplyRatePerBlock","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"underlying","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"}]`

	vaultABIJSON = `[
		{"inputs":[],"name":"getPricePerFullShare","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"token","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"underlying","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"}]`

	curveProviderABIJSON = `[
		{"inputs":[],"name":"get_registry","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"type":"uint256"}],"name":"get_address","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"}]`

	curveRegistryABIJSON = `[
		{"inputs":[{"type":"address"}],"name":"get_pool_from_lp_token","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"}]`

	curvePoolInfoABIJSON = `[
		{"inputs":[{"type":"address"}],"name":"get_pool_coins","outputs":[{"type":"address[8]"},{"type":"address[8]"},{"type":"uint256[8]"},{"type":"uint256[8]"}],"stateMutability":"view","type":"function"}]`

	curvePoolABIJSON = `[
		{"inputs":[{"type":"uint256"}],"name":"balances","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"A","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}]`

	converterABIJSON = `[
		{"inputs":[],"name":"reserveTokens","outputs":[{"type":"address[]"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"type":"address"}],"name":"reserveWeight","outputs":[{"type":"uint32"}],"stateMutability":"view","type":"function"}]`
)

// curveAddressProvider is immutable; the address never changes.
var curveAddressProvider = common.HexToAddress("0x0000000022D53366457F9d5E68Ec105046FC4383")

var zeroAddress = common.Address{}

var (
	poolAddedTopic      = crypto.Keccak256Hash([]byte("PoolAdded(address,bytes)"))
	tokenRateUpdateTopic = crypto.Keccak256Hash([]byte("TokenRateUpdate(address,address,uint256,uint256)"))
)

var (
	erc20ABI         abi.ABI
	weightedPoolABI  abi.ABI
	pairABI          abi.ABI
	lendingABI       abi.ABI
	vaultABI         abi.ABI
	curveProviderABI abi.ABI
	curveRegistryABI abi.ABI
	curvePoolInfoABI abi.ABI
	curvePoolABI     abi.ABI
	converterABI     abi.ABI
)

func init() {
	for _, entry := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&erc20ABI, erc20ABIJSON},
		{&weightedPoolABI, weightedPoolABIJSON},
		{&pairABI, pairABIJSON},
		{&lendingABI, lendingABIJSON},
		{&vaultABI, vaultABIJSON},
		{&curveProviderABI, curveProviderABIJSON},
		{&curveRegistryABI, curveRegistryABIJSON},
		{&curvePoolInfoABI, curvePoolInfoABIJSON},
		{&curvePoolABI, curvePoolABIJSON},
		{&converterABI, converterABIJSON},
	} {
		parsed, err := abi.JSON(strings.NewReader(entry.json))
		if err != nil {
			panic("failed to parse contract ABI: " + err.Error())
		}
		*entry.dst = parsed
	}
}

// EthOptions parameterise the Ethereum-backed data source.
type EthOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// EthSource implements every collaborator interface against an
// Ethereum archive node via go-ethereum.
type EthSource struct {
	opts      EthOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEthSource builds an Ethereum data source. The RPC connection is
// dialled lazily on first use.
func NewEthSource(opts EthOptions, logger zerolog.Logger) *EthSource {
	return &EthSource{opts: opts, logger: logger.With().Str("component", "eth_source").Logger()}
}

func (s *EthSource) getClient(ctx context.Context) (*ethclient.Client, error) {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, s.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

func (s *EthSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// call packs a method, executes it at the given block (0 = latest) and
// unpacks the outputs.
func (s *EthSource) call(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, block uint64, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var blockNumber *big.Int
	if block > 0 {
		blockNumber = new(big.Int).SetUint64(block)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, blockNumber)
	if err != nil {
		return nil, err
	}

	outputs, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return outputs, nil
}

func (s *EthSource) callBig(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, block uint64, args ...interface{}) (*big.Int, error) {
	outputs, err := s.call(ctx, contract, contractABI, method, block, args...)
	if err != nil {
		return nil, err
	}
	if len(outputs) < 1 {
		return nil, fmt.Errorf("%s returned no outputs", method)
	}
	v, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned unexpected type %T", method, outputs[0])
	}
	return v, nil
}

func (s *EthSource) callAddress(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) (common.Address, error) {
	outputs, err := s.call(ctx, contract, contractABI, method, 0, args...)
	if err != nil {
		return zeroAddress, err
	}
	if len(outputs) < 1 {
		return zeroAddress, fmt.Errorf("%s returned no outputs", method)
	}
	addr, ok := outputs[0].(common.Address)
	if !ok {
		return zeroAddress, fmt.Errorf("%s returned unexpected type %T", method, outputs[0])
	}
	return addr, nil
}

// BlockReader

func (s *EthSource) BlockByNumber(ctx context.Context, number uint64) (Block, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return Block{}, err
	}
	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Block{}, err
	}
	return Block{Number: header.Number.Uint64(), Timestamp: int64(header.Time)}, nil
}

func (s *EthSource) LatestBlock(ctx context.Context) (Block, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return Block{}, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Block{}, err
	}
	return Block{Number: header.Number.Uint64(), Timestamp: int64(header.Time)}, nil
}

// TokenReader

func (s *EthSource) TokenInfo(ctx context.Context, token common.Address) (TokenInfo, error) {
	info := TokenInfo{}
	outputs, err := s.call(ctx, token, erc20ABI, "decimals", 0)
	if err != nil {
		return info, err
	}
	if d, ok := outputs[0].(uint8); ok {
		info.Decimals = int32(d)
	}

	outputs, err = s.call(ctx, token, erc20ABI, "symbol", 0)
	if err != nil {
		return info, err
	}
	if sym, ok := outputs[0].(string); ok {
		info.Symbol = sym
	}
	return info, nil
}

// SupplyReader

func (s *EthSource) TotalSupply(ctx context.Context, token common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, token, erc20ABI, "totalSupply", block)
}

// WeightedPoolReader

func (s *EthSource) PoolBalance(ctx context.Context, pool, token common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, pool, weightedPoolABI, "getBalance", block, token)
}

func (s *EthSource) NormalizedWeight(ctx context.Context, pool, token common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, pool, weightedPoolABI, "getNormalizedWeight", block, token)
}

// PairReader

func (s *EthSource) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	token0, err := s.callAddress(ctx, pair, pairABI, "token0")
	if err != nil {
		return zeroAddress, zeroAddress, err
	}
	token1, err := s.callAddress(ctx, pair, pairABI, "token1")
	if err != nil {
		return zeroAddress, zeroAddress, err
	}
	return token0, token1, nil
}

func (s *EthSource) Reserves(ctx context.Context, pair common.Address, block uint64) (*big.Int, *big.Int, error) {
	outputs, err := s.call(ctx, pair, pairABI, "getReserves", block)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) < 2 {
		return nil, nil, errors.New("getReserves returned unexpected outputs")
	}
	reserve0, ok0 := outputs[0].(*big.Int)
	reserve1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("getReserves returned unexpected types")
	}
	return reserve0, reserve1, nil
}

// LendingReader

func (s *EthSource) AccrualBlockNumber(ctx context.Context, market common.Address, block uint64) (uint64, error) {
	v, err := s.callBig(ctx, market, lendingABI, "accrualBlockNumber", block)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (s *EthSource) ExchangeRateStored(ctx context.Context, market common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, market, lendingABI, "exchangeRateStored", block)
}

func (s *EthSource) SupplyRatePerBlock(ctx context.Context, market common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, market, lendingABI, "supplyRatePerBlock", block)
}

func (s *EthSource) LendingUnderlying(ctx context.Context, market common.Address) (common.Address, error) {
	return s.callAddress(ctx, market, lendingABI, "underlying")
}

// VaultReader

func (s *EthSource) PricePerFullShare(ctx context.Context, vault common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, vault, vaultABI, "getPricePerFullShare", block)
}

func (s *EthSource) VaultToken(ctx context.Context, vault common.Address) (common.Address, error) {
	return s.callAddress(ctx, vault, vaultABI, "token")
}

func (s *EthSource) VaultUnderlying(ctx context.Context, vault common.Address) (common.Address, error) {
	return s.callAddress(ctx, vault, vaultABI, "underlying")
}

// StableSwapReader

func (s *EthSource) registryAddress(ctx context.Context) (common.Address, error) {
	return s.callAddress(ctx, curveAddressProvider, curveProviderABI, "get_registry")
}

func (s *EthSource) poolInfoAddress(ctx context.Context) (common.Address, error) {
	return s.callAddress(ctx, curveAddressProvider, curveProviderABI, "get_address", big.NewInt(1))
}

func (s *EthSource) PoolCoins(ctx context.Context, pool common.Address) (PoolCoins, error) {
	poolInfo, err := s.poolInfoAddress(ctx)
	if err != nil {
		return PoolCoins{}, err
	}
	outputs, err := s.call(ctx, poolInfo, curvePoolInfoABI, "get_pool_coins", 0, pool)
	if err != nil {
		return PoolCoins{}, err
	}
	if len(outputs) < 4 {
		return PoolCoins{}, errors.New("get_pool_coins returned unexpected outputs")
	}
	coins, ok0 := outputs[0].([8]common.Address)
	underlying, ok1 := outputs[1].([8]common.Address)
	dec, ok2 := outputs[2].([8]*big.Int)
	underlyingDec, ok3 := outputs[3].([8]*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return PoolCoins{}, errors.New("get_pool_coins returned unexpected types")
	}

	result := PoolCoins{}
	for i := range coins {
		if coins[i] == zeroAddress {
			break
		}
		result.Coins = append(result.Coins, coins[i])
		result.UnderlyingCoins = append(result.UnderlyingCoins, underlying[i])
		result.Decimals = append(result.Decimals, int32(dec[i].Int64()))
		result.UnderlyingDecimals = append(result.UnderlyingDecimals, int32(underlyingDec[i].Int64()))
	}
	return result, nil
}

func (s *EthSource) PoolFromLPToken(ctx context.Context, lp common.Address) (common.Address, error) {
	registry, err := s.registryAddress(ctx)
	if err != nil {
		return zeroAddress, err
	}
	return s.callAddress(ctx, registry, curveRegistryABI, "get_pool_from_lp_token", lp)
}

func (s *EthSource) CoinBalance(ctx context.Context, pool common.Address, index int, block uint64) (*big.Int, error) {
	return s.callBig(ctx, pool, curvePoolABI, "balances", block, big.NewInt(int64(index)))
}

func (s *EthSource) AmplificationFactor(ctx context.Context, pool common.Address, block uint64) (*big.Int, error) {
	return s.callBig(ctx, pool, curvePoolABI, "A", block)
}

// RateMethodID scans the registry's PoolAdded logs for the pool and
// returns the rate method selector of the most recent registration.
func (s *EthSource) RateMethodID(ctx context.Context, pool common.Address) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}
	registry, err := s.registryAddress(ctx)
	if err != nil {
		return "", err
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{registry},
		Topics:    [][]common.Hash{{poolAddedTopic}, {common.BytesToHash(pool.Bytes())}},
	})
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", nil
	}

	// Primary sort on block number, then transaction index, then log
	// index, matching on-chain emission order.
	last := logs[0]
	for _, l := range logs[1:] {
		if l.BlockNumber > last.BlockNumber ||
			(l.BlockNumber == last.BlockNumber && l.TxIndex > last.TxIndex) ||
			(l.BlockNumber == last.BlockNumber && l.TxIndex == last.TxIndex && l.Index > last.Index) {
			last = l
		}
	}

	// The data payload is an ABI-encoded dynamic bytes value holding
	// the 4-byte selector.
	if len(last.Data) < 96 {
		return "", nil
	}
	return "0x" + hex.EncodeToString(last.Data[64:68]), nil
}

// RateEventReader

func (s *EthSource) ReserveTokens(ctx context.Context, converter common.Address) (common.Address, common.Address, error) {
	outputs, err := s.call(ctx, converter, converterABI, "reserveTokens", 0)
	if err != nil {
		return zeroAddress, zeroAddress, err
	}
	tokens, ok := outputs[0].([]common.Address)
	if !ok || len(tokens) < 2 {
		return zeroAddress, zeroAddress, errors.New("reserveTokens returned unexpected outputs")
	}
	return tokens[0], tokens[1], nil
}

func (s *EthSource) ReserveWeight(ctx context.Context, converter, token common.Address) (*big.Int, error) {
	outputs, err := s.call(ctx, converter, converterABI, "reserveWeight", 0, token)
	if err != nil {
		return nil, err
	}
	switch w := outputs[0].(type) {
	case uint32:
		return new(big.Int).SetUint64(uint64(w)), nil
	case *big.Int:
		return w, nil
	default:
		return nil, fmt.Errorf("reserveWeight returned unexpected type %T", outputs[0])
	}
}

func (s *EthSource) RateUpdates(ctx context.Context, converter common.Address, fromBlock, toBlock uint64) ([]RateEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{converter},
		Topics:    [][]common.Hash{{tokenRateUpdateTopic}},
	})
	if err != nil {
		return nil, err
	}

	events := make([]RateEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 || len(l.Data) < 64 {
			continue
		}
		events = append(events, RateEvent{
			BlockNumber: l.BlockNumber,
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
			Base:        common.BytesToAddress(l.Topics[1].Bytes()),
			RateN:       new(big.Int).SetBytes(l.Data[:32]),
			RateD:       new(big.Int).SetBytes(l.Data[32:64]),
		})
	}
	return events, nil
}

var (
	_ BlockReader        = (*EthSource)(nil)
	_ TokenReader        = (*EthSource)(nil)
	_ SupplyReader       = (*EthSource)(nil)
	_ WeightedPoolReader = (*EthSource)(nil)
	_ PairReader         = (*EthSource)(nil)
	_ LendingReader      = (*EthSource)(nil)
	_ VaultReader        = (*EthSource)(nil)
	_ StableSwapReader   = (*EthSource)(nil)
	_ RateEventReader    = (*EthSource)(nil)
)
