package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SandboxBackend 在未配置签名私钥时使用：不接触任何外部网络，
// 为每个批次项生成确定格式的合成交易标识，调用总是成功。
type SandboxBackend struct{}

// NewSandboxBackend 创建沙盒结算后端。
func NewSandboxBackend() *SandboxBackend {
	return &SandboxBackend{}
}

// Mode 返回沙盒标识。
func (b *SandboxBackend) Mode() Mode {
	return ModeSandbox
}

// Ping 沙盒模式没有网络依赖，永远可达。
func (b *SandboxBackend) Ping(_ context.Context) error {
	return nil
}

// NextSequence 沙盒序号从零开始，每次调用都是全新的本地计数。
func (b *SandboxBackend) NextSequence(_ context.Context) (uint64, error) {
	return 0, nil
}

// Submit 生成合成交易哈希，不做任何外部 I/O。
func (b *SandboxBackend) Submit(_ context.Context, _ Transfer) (string, error) {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

// Close 沙盒后端没有需要释放的资源。
func (b *SandboxBackend) Close() {}
