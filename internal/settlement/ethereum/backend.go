package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"ArcFlow/internal/settlement"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20TransferABI 是最小化的 ERC-20 transfer 接口描述。
const erc20TransferABI = `[{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

const (
	defaultGasLimit      = 100_000
	defaultTokenDecimals = 6
)

// Config 描述构建 EVM 结算后端所需的信息。
type Config struct {
	Name          string
	RPCURL        string
	ChainID       int64
	TokenAddress  string
	TokenDecimals int
	PrivateKey    string
	GasLimit      uint64
}

// rpcBackend 是后端所需的以太坊节点能力子集，便于测试替换。
type rpcBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Backend 通过 go-ethereum 在 EVM 兼容链上执行稳定币转账，
// 实现 settlement.Backend 的 LIVE 路径。
type Backend struct {
	name        string
	eth         *ethclient.Client
	rpc         rpcBackend
	chainID     *big.Int
	token       common.Address
	decimals    int
	gasLimit    uint64
	key         *ecdsa.PrivateKey
	from        common.Address
	transferABI abi.ABI
}

// NewBackend 连接配置的 RPC 端点并返回可用的结算后端。
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置结算链 RPC 地址")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接结算链节点失败: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		queried, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("查询链 ID 失败: %w", err)
		}
		chainID = queried
	}

	backend, err := newBackend(cfg.Name, chainID, eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	backend.eth = eth
	return backend, nil
}

// NewBackendWithClient 使用外部提供的节点实现构建后端，供测试使用。
func NewBackendWithClient(name string, chainID *big.Int, rpc rpcBackend, cfg Config) (*Backend, error) {
	return newBackend(name, chainID, rpc, cfg)
}

func newBackend(name string, chainID *big.Int, rpc rpcBackend, cfg Config) (*Backend, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("未配置结算私钥")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析结算私钥失败: %w", err)
	}

	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("无效的代币合约地址: %s", cfg.TokenAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}

	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = defaultTokenDecimals
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	return &Backend{
		name:        name,
		rpc:         rpc,
		chainID:     new(big.Int).Set(chainID),
		token:       common.HexToAddress(cfg.TokenAddress),
		decimals:    decimals,
		gasLimit:    gasLimit,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		transferABI: parsedABI,
	}, nil
}

// Mode 返回 LIVE 标识。
func (b *Backend) Mode() settlement.Mode {
	return settlement.ModeLive
}

// Ping 查询链 ID 并与配置比对，确认网络可达且连到了正确的链。
func (b *Backend) Ping(ctx context.Context) error {
	got, err := b.rpc.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("结算链节点无响应: %w", err)
	}
	if got.Cmp(b.chainID) != 0 {
		return fmt.Errorf("链 ID 不匹配: 期望 %s 实际 %s", b.chainID, got)
	}
	return nil
}

// NextSequence 返回发送账户的待定 nonce。
func (b *Backend) NextSequence(ctx context.Context) (uint64, error) {
	nonce, err := b.rpc.PendingNonceAt(ctx, b.from)
	if err != nil {
		return 0, fmt.Errorf("查询账户 nonce 失败: %w", err)
	}
	return nonce, nil
}

// Submit 构建、签名并广播一笔 ERC-20 转账。
// nonce 使用调度器传入的序号，不在此处重新查询。
func (b *Backend) Submit(ctx context.Context, transfer settlement.Transfer) (string, error) {
	if !common.IsHexAddress(transfer.Recipient) {
		return "", fmt.Errorf("无效的收款地址: %s", transfer.Recipient)
	}

	units := tokenUnits(transfer.Amount, b.decimals)
	if units.Sign() <= 0 {
		return "", fmt.Errorf("无效的转账金额: %.2f", transfer.Amount)
	}

	data, err := b.transferABI.Pack("transfer", common.HexToAddress(transfer.Recipient), units)
	if err != nil {
		return "", fmt.Errorf("编码转账数据失败: %w", err)
	}

	gasPrice, err := b.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("查询 gas 价格失败: %w", err)
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    transfer.Sequence,
		To:       &b.token,
		Gas:      b.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	if err := b.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("广播交易失败: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Close 释放网络连接。
func (b *Backend) Close() {
	if b.eth != nil {
		b.eth.Close()
		b.eth = nil
	}
}

// From 返回发送账户地址。
func (b *Backend) From() common.Address {
	return b.from
}

// tokenUnits 把十进制金额换算成代币最小单位。
func tokenUnits(amount float64, decimals int) *big.Int {
	scaled := math.Round(amount * math.Pow(10, float64(decimals)))
	units, _ := new(big.Float).SetFloat64(scaled).Int(nil)
	return units
}

var _ settlement.Backend = (*Backend)(nil)
