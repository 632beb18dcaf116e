package ledger

import (
	"fmt"

	"casedraft-backend/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CostTable maps each tier to the credits one case of that tier consumes
type CostTable map[models.Tier]int

// DefaultCosts is the static cost table
var DefaultCosts = CostTable{
	models.TierAdministrative: 1,
	models.TierStandard:       2,
	models.TierComplex:        4,
}

// Cost returns the credits charged for tier
func (c CostTable) Cost(tier models.Tier) int {
	return c[tier]
}

// Validate requires a positive, non-decreasing cost for every tier
func (c CostTable) Validate() error {
	prev := 0
	for _, tier := range models.Tiers {
		cost, ok := c[tier]
		if !ok || cost <= 0 {
			return fmt.Errorf("cost for tier %s must be positive", tier)
		}
		if cost < prev {
			return fmt.Errorf("cost for tier %s is lower than the previous tier", tier)
		}
		prev = cost
	}
	return nil
}

var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_quota_reservations_total",
		Help: "Quota reservations by tier and decision",
	}, []string{"tier", "decision"})

	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casedraft_quota_payments_total",
		Help: "Confirmed payments applied to the ledger by tier",
	}, []string{"tier"})
)
