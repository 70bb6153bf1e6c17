package negotiation

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// 议价是对自主谈判的本地模拟：没有任何供应商侧交互，
// 仅以固定概率在选中商品上套用一次折扣。
const (
	defaultProbability = 0.25
)

var defaultDiscounts = []int{5, 10, 15}

// Outcome 描述一次议价模拟的结果。
// Applied 为 false 时价格保持原样，OriginalPrice 无意义。
type Outcome struct {
	Price         float64
	OriginalPrice float64
	DiscountPct   int
	Applied       bool
}

// Simulator 以可注入的随机源模拟议价，便于测试固定两个分支。
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
	discounts   []int
}

// Option 定义可选的模拟器配置。
type Option func(*Simulator)

// WithSeed 固定随机种子，使议价结果可复现。
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithProbability 覆盖默认的议价触发概率。
func WithProbability(p float64) Option {
	return func(s *Simulator) {
		if p >= 0 && p <= 1 {
			s.probability = p
		}
	}
}

// WithDiscounts 覆盖默认的折扣百分比集合。
func WithDiscounts(discounts []int) Option {
	return func(s *Simulator) {
		if len(discounts) > 0 {
			copied := make([]int, len(discounts))
			copy(copied, discounts)
			s.discounts = copied
		}
	}
}

// New 创建议价模拟器。
func New(opts ...Option) *Simulator {
	sim := &Simulator{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		probability: defaultProbability,
		discounts:   defaultDiscounts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sim)
		}
	}
	return sim
}

// Apply 对给定价格模拟一次议价。折后价保留两位小数。
func (s *Simulator) Apply(price float64) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() > s.probability {
		return Outcome{Price: price}
	}

	pct := s.discounts[s.rng.Intn(len(s.discounts))]
	discounted := math.Round(price*(1-float64(pct)/100)*100) / 100
	return Outcome{
		Price:         discounted,
		OriginalPrice: price,
		DiscountPct:   pct,
		Applied:       true,
	}
}
