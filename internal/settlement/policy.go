package settlement

import (
	"fmt"
	"sort"
	"strconv"

	xerrors "ArcFlow/internal/errors"
)

// defaultBudgetCap 是单次结算的总额上限（货币单位）。
const defaultBudgetCap = 10_000.0

// Policy 是结算前的确定性安全闸门：白名单加总额上限。
// 配置在构造时注入且不可变，任何转账准备工作都在校验通过之后才开始。
//
// 白名单刻意独立于选品阶段的供应商信任过滤：一个供应商可能已经
// 可以参与选品，但尚未开通收款。两个集合不可合并。
type Policy struct {
	whitelist map[string]string
	budgetCap float64
}

// NewPolicy 创建策略闸门。whitelist 的键是供应商 ID，值是结算地址。
func NewPolicy(whitelist map[string]string, budgetCap float64) *Policy {
	if budgetCap <= 0 {
		budgetCap = defaultBudgetCap
	}
	cloned := make(map[string]string, len(whitelist))
	for vendorID, address := range whitelist {
		cloned[vendorID] = address
	}
	return &Policy{whitelist: cloned, budgetCap: budgetCap}
}

// Check 校验购物车。失败关闭：任何一条不满足即拒绝整批，
// 此时尚未发生任何副作用。校验不修改购物车。
func (p *Policy) Check(lines []Line) error {
	if len(lines) == 0 {
		return xerrors.New(xerrors.CodePolicyViolation, "empty cart")
	}

	total := 0.0
	for _, line := range lines {
		if line.VendorID == "" {
			return xerrors.New(xerrors.CodePolicyViolation, "cart line missing vendor_id")
		}
		if _, ok := p.whitelist[line.VendorID]; !ok {
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("merchant not whitelisted: %s", line.VendorID),
				xerrors.WithMetadata("vendor_id", line.VendorID),
			)
		}
		if line.Price < 0 {
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("invalid price for item: %.2f", line.Price),
				xerrors.WithMetadata("vendor_id", line.VendorID),
			)
		}
		total += line.Price
	}

	if total > p.budgetCap {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("total %.2f exceeds budget cap %.2f", total, p.budgetCap),
			xerrors.WithMetadata("total", strconv.FormatFloat(total, 'f', 2, 64)),
			xerrors.WithMetadata("budget_cap", strconv.FormatFloat(p.budgetCap, 'f', 2, 64)),
		)
	}
	return nil
}

// Address 返回白名单中供应商的结算地址。
func (p *Policy) Address(vendorID string) (string, bool) {
	address, ok := p.whitelist[vendorID]
	return address, ok
}

// Vendors 返回白名单供应商 ID 的有序列表，用于审计输出。
func (p *Policy) Vendors() []string {
	vendors := make([]string, 0, len(p.whitelist))
	for vendorID := range p.whitelist {
		vendors = append(vendors, vendorID)
	}
	sort.Strings(vendors)
	return vendors
}

// BudgetCap 返回总额上限。
func (p *Policy) BudgetCap() float64 {
	return p.budgetCap
}

// DefaultWhitelist 返回内置的结算白名单（供应商 ID 到结算地址）。
func DefaultWhitelist() map[string]string {
	return map[string]string{
		"amazon":      "0x1111111111111111111111111111111111111111",
		"walmart":     "0x2222222222222222222222222222222222222222",
		"tech_direct": "0x3333333333333333333333333333333333333333",
	}
}
