package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ArcFlow/internal/settlement"
	"ArcFlow/internal/settlement/ethereum"
	"ArcFlow/pkg/logger"
)

// DefaultChain 是未显式指定时使用的结算链名称。
const DefaultChain = "arc-testnet"

// DefaultPrivateKeyEnv 是默认读取结算私钥的环境变量。
const DefaultPrivateKeyEnv = "ARCFLOW_SETTLEMENT_KEY"

// Config 描述结算后端的选择与构建参数。
type Config struct {
	// PrivateKey 直接给出签名私钥。生产部署建议留空，
	// 改用 PrivateKeyEnv 指向的环境变量。
	PrivateKey string
	// PrivateKeyEnv 指定存放私钥的环境变量名。
	PrivateKeyEnv string
	// ChainConfigPath 是链定义 YAML 文件的路径。
	ChainConfigPath string
	// Chain 选择链定义中的哪一条链。
	Chain string
	// GasLimit 覆盖转账的 gas 上限，零值使用默认。
	GasLimit uint64
}

// NewBackend 根据配置决定结算执行路径。
// 没有可用私钥时返回沙盒后端，这是合法降级而不是错误。
func NewBackend(ctx context.Context, cfg Config) (settlement.Backend, error) {
	key := resolveKey(cfg)
	if key == "" {
		logger.L().Info("settlement key absent, running in sandbox mode")
		return settlement.NewSandboxBackend(), nil
	}

	defs, err := settlement.LoadChainDefinitions(cfg.ChainConfigPath)
	if err != nil {
		return nil, err
	}

	chainName := strings.TrimSpace(cfg.Chain)
	if chainName == "" {
		chainName = DefaultChain
	}
	def, ok := defs.Chains[chainName]
	if !ok {
		return nil, fmt.Errorf("链配置中不存在链 %q", chainName)
	}

	backend, err := ethereum.NewBackend(ctx, ethereum.Config{
		Name:          chainName,
		RPCURL:        def.RPCURL,
		ChainID:       def.ChainID,
		TokenAddress:  def.TokenAddress,
		TokenDecimals: def.TokenDecimals,
		PrivateKey:    key,
		GasLimit:      cfg.GasLimit,
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("settlement backend ready",
		slog.String("chain", chainName),
		slog.Int64("chain_id", def.ChainID),
	)
	return backend, nil
}

// resolveKey 先取配置内联的私钥，再退回环境变量。
func resolveKey(cfg Config) string {
	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		return key
	}
	env := strings.TrimSpace(cfg.PrivateKeyEnv)
	if env == "" {
		env = DefaultPrivateKeyEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}
