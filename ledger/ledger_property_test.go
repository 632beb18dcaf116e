//go:build property

package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestReserveNeverExceedsAllotment checks that for any allotment and any
// number of concurrent reservations, granted credits never exceed the
// allotment and the ledger stays consistent with the grant count.
func TestReserveNeverExceedsAllotment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("consumed <= allotted under concurrency", prop.ForAll(
		func(allotted, workers, tierIdx int) bool {
			tier := models.Tiers[tierIdx]
			l, err := New(NewInMemoryStore())
			if err != nil {
				return false
			}
			user := models.Identity{UserID: uuid.New(), Entitlements: map[models.Tier]int{tier: allotted}}

			var wg sync.WaitGroup
			var mu sync.Mutex
			granted := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := l.Reserve(context.Background(), user, tier, fmt.Sprintf("c%d", i))
					if err == nil && res.Granted() {
						mu.Lock()
						granted++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			entry, err := l.Balance(context.Background(), user, tier)
			if err != nil {
				return false
			}
			cost := l.Cost(tier)
			expected := allotted / cost
			if expected > workers {
				expected = workers
			}
			return entry.Consumed <= entry.Allotted &&
				entry.Consumed == granted*cost &&
				granted == expected
		},
		gen.IntRange(0, 40),
		gen.IntRange(1, 30),
		gen.IntRange(0, len(models.Tiers)-1),
	))

	properties.Property("replaying a reservation never charges twice", prop.ForAll(
		func(replays int) bool {
			l, err := New(NewInMemoryStore())
			if err != nil {
				return false
			}
			user := models.Identity{UserID: uuid.New(), Entitlements: map[models.Tier]int{models.TierStandard: 100}}
			for i := 0; i < replays; i++ {
				if _, err := l.Reserve(context.Background(), user, models.TierStandard, "case:2"); err != nil {
					return false
				}
			}
			entry, err := l.Balance(context.Background(), user, models.TierStandard)
			return err == nil && entry.Consumed == 2
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
