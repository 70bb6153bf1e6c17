package selector

import (
	"context"
	"fmt"
	"strings"

	"ArcFlow/internal/catalog"
	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/merchant"
	"ArcFlow/internal/negotiation"
	"ArcFlow/internal/scoring"
)

// CartLine 是写入购物车的一条选品结果。追加后不再修改。
type CartLine struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Price              float64        `json:"price"`
	VendorName         string         `json:"vendor_name"`
	VendorID           string         `json:"vendor_id"`
	TrustScore         int            `json:"trust_score"`
	DeliveryDays       int            `json:"delivery_days"`
	Score              float64        `json:"ai_score"`
	Reason             string         `json:"reason"`
	AIReason           scoring.Reason `json:"ai_reason"`
	OriginalPrice      *float64       `json:"original_price,omitempty"`
	NegotiatedDiscount int            `json:"negotiated_discount,omitempty"`
}

// Cart 按类目处理顺序保存选品结果，每个类目至多一条。
type Cart struct {
	Lines []CartLine `json:"lines"`
	Spend float64    `json:"spend"`
}

// Config 控制选品行为。
type Config struct {
	// MinTrustScore 是供应商参与选品所需的最低信任分。
	MinTrustScore int
	// MaxCategories 限制一次请求可处理的类目数量。
	MaxCategories int
}

const (
	defaultMinTrustScore = 90
	defaultMaxCategories = 6
)

// Selector 消费目录、供应商注册表与打分函数，在预算约束下
// 为每个类目挑选至多一件商品。
type Selector struct {
	source     catalog.Source
	registry   *merchant.Registry
	negotiator *negotiation.Simulator
	cfg        Config
}

// New 创建 Selector。negotiator 可以为 nil，此时跳过议价模拟。
func New(source catalog.Source, registry *merchant.Registry, negotiator *negotiation.Simulator, cfg Config) *Selector {
	if cfg.MinTrustScore <= 0 {
		cfg.MinTrustScore = defaultMinTrustScore
	}
	if cfg.MaxCategories <= 0 {
		cfg.MaxCategories = defaultMaxCategories
	}
	return &Selector{
		source:     source,
		registry:   registry,
		negotiator: negotiator,
		cfg:        cfg,
	}
}

// Select 依次处理类目并构建购物车。买不起的类目静默跳过，
// 累计花费在任意前缀都不会超过预算。
func (s *Selector) Select(ctx context.Context, categories []string, budget float64, strategy scoring.Strategy) (Cart, error) {
	if s.source == nil || s.registry == nil {
		return Cart{}, xerrors.New(xerrors.CodeInitializationFailure, "选品组件未初始化")
	}

	// 预算为零或为负时没有任何可买的东西，空购物车是合法结果。
	if budget <= 0 {
		return Cart{}, nil
	}

	items, err := s.source.List(ctx)
	if err != nil {
		return Cart{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取商品目录失败")
	}

	cart := Cart{}
	for _, category := range normalizeCategories(categories, s.cfg.MaxCategories) {
		winner, trustScore, found := s.pickWinner(items, category, budget-cart.Spend, strategy)
		if !found {
			continue
		}

		line := s.buildLine(winner, trustScore, strategy)
		cart.Lines = append(cart.Lines, line)
		cart.Spend += line.Price
	}
	return cart, nil
}

// pickWinner 在给定类目下挑选得分最低的候选商品。
// 同分时目录顺序靠前者胜出，保证结果确定。
func (s *Selector) pickWinner(items []catalog.Item, category string, remaining float64, strategy scoring.Strategy) (catalog.Item, int, bool) {
	var (
		winner    catalog.Item
		bestScore float64
		found     bool
	)
	for _, item := range items {
		if item.Category != category {
			continue
		}
		if !s.registry.Trusted(item.VendorID, s.cfg.MinTrustScore) {
			continue
		}
		if item.Price > remaining {
			continue
		}
		score := scoring.Score(item, strategy)
		if !found || score < bestScore {
			winner = item
			bestScore = score
			found = true
		}
	}
	if !found {
		return catalog.Item{}, 0, false
	}
	record, _ := s.registry.Get(winner.VendorID)
	return winner, record.TrustScore, true
}

// buildLine 在议价之后生成购物车行。得分按最终价格重新计算。
func (s *Selector) buildLine(item catalog.Item, trustScore int, strategy scoring.Strategy) CartLine {
	record, _ := s.registry.Get(item.VendorID)

	line := CartLine{
		ID:           item.ID,
		Name:         item.Name,
		Price:        item.Price,
		VendorName:   record.DisplayName,
		VendorID:     item.VendorID,
		TrustScore:   trustScore,
		DeliveryDays: item.DeliveryDays,
		Reason:       fmt.Sprintf("Chosen because it optimizes %s within your constraints.", strategyLabel(strategy)),
		AIReason:     scoring.DeriveReason(item, trustScore, strategy),
	}

	if s.negotiator != nil {
		outcome := s.negotiator.Apply(item.Price)
		if outcome.Applied {
			original := outcome.OriginalPrice
			line.Price = outcome.Price
			line.OriginalPrice = &original
			line.NegotiatedDiscount = outcome.DiscountPct
		}
	}

	priced := item
	priced.Price = line.Price
	line.Score = scoring.Score(priced, strategy)
	return line
}

// Normalize 返回 Select 实际处理的类目序列：去空白、按首次出现
// 去重并按配置截断。调用方据此对外呈现与购物车一致的类目。
func (s *Selector) Normalize(categories []string) []string {
	return normalizeCategories(categories, s.cfg.MaxCategories)
}

// normalizeCategories 去重并保持首次出现的顺序，同时限制数量。
func normalizeCategories(categories []string, limit int) []string {
	seen := make(map[string]struct{}, len(categories))
	result := make([]string, 0, len(categories))
	for _, category := range categories {
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		result = append(result, category)
		if len(result) >= limit {
			break
		}
	}
	return result
}

func strategyLabel(strategy scoring.Strategy) string {
	switch strategy {
	case scoring.StrategyCheapest, scoring.StrategyFastest:
		return string(strategy)
	default:
		return string(scoring.StrategyBalanced)
	}
}
