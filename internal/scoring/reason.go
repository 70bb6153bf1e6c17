package scoring

import "ArcFlow/internal/catalog"

// Reason 是选品理由的封闭枚举，供前端展示智能体的决策依据。
type Reason string

const (
	ReasonBestPrice       Reason = "Best Price"
	ReasonFastestDelivery Reason = "Fastest Delivery"
	ReasonTrustedVendor   Reason = "Trusted Vendor"
	ReasonQuickShip       Reason = "Quick Ship"
	ReasonBestValue       Reason = "Best Value"
)

const (
	// trustedVendorScore 达到该信任分的供应商可标记为 Trusted Vendor。
	trustedVendorScore = 97
	// quickShipDays 交期不超过该天数的商品可标记为 Quick Ship。
	quickShipDays = 1
)

// DeriveReason 按固定优先级推导选品理由：
// 策略直接命中（cheapest/fastest）优先，其次供应商信任分，
// 再次极短交期，兜底为均衡之选。规则顺序是行为契约的一部分。
func DeriveReason(item catalog.Item, trustScore int, strategy Strategy) Reason {
	switch strategy {
	case StrategyCheapest:
		return ReasonBestPrice
	case StrategyFastest:
		return ReasonFastestDelivery
	}
	if trustScore >= trustedVendorScore {
		return ReasonTrustedVendor
	}
	if item.DeliveryDays <= quickShipDays {
		return ReasonQuickShip
	}
	return ReasonBestValue
}
