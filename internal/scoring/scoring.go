package scoring

import (
	"math"

	"ArcFlow/internal/catalog"
)

// Strategy 表示采购权衡策略，控制价格与交期的权重。
type Strategy string

const (
	StrategyCheapest Strategy = "cheapest"
	StrategyFastest  Strategy = "fastest"
	StrategyBalanced Strategy = "balanced"
)

const (
	// referencePrice 是价格归一化的参考上限（货币单位）。
	referencePrice = 200.0
	// referenceDeliveryDays 是交期归一化的参考区间（天）。
	referenceDeliveryDays = 7.0
	// placeholderPrice 在商品缺少标价时参与打分，避免打分失败。
	placeholderPrice = 100.0
)

// Weights 返回策略对应的 (价格权重, 交期权重)。
// 无法识别的策略不报错，回退到均衡权重。
func Weights(strategy Strategy) (float64, float64) {
	switch strategy {
	case StrategyCheapest:
		return 0.9, 0.1
	case StrategyFastest:
		return 0.1, 0.9
	default:
		return 0.5, 0.5
	}
}

// Score 计算商品在指定策略下的归一化得分，保留三位小数。
// 纯函数，分数越低越优。
//
// 价格为零被视为"未标价"而非免费，按 placeholderPrice 参与打分；
// 结算策略独立于打分，零价条目仍可通过策略校验。
func Score(item catalog.Item, strategy Strategy) float64 {
	price := item.Price
	if price == 0 {
		price = placeholderPrice
	}
	normPrice := price / referencePrice
	normDelivery := float64(item.DeliveryDays) / referenceDeliveryDays

	priceWeight, deliveryWeight := Weights(strategy)
	return round(normPrice*priceWeight+normDelivery*deliveryWeight, 3)
}

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
