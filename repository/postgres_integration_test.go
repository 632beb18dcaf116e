//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// =============================================================================
// Postgres Repository Integration Suite
// =============================================================================
// Exercises the SQL behind optimistic commits, draft supersession and the
// row-locked quota ledger against a real Postgres.

type PostgresSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	cases     *CaseRepository
	drafts    *DraftRepository
	quota     *QuotaRepository
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("casedraft"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(ctx, connString)
	s.Require().NoError(err)

	_, err = s.pool.Exec(ctx, CaseSchema)
	s.Require().NoError(err)

	s.cases = NewCaseRepository(s.pool)
	s.drafts = NewDraftRepository(s.pool)
	s.quota = NewQuotaRepository(s.pool)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresSuite) newCase() *models.Case {
	details := models.NewCaseDetails()
	details.Facts["description"] = "amendă de circulație contestată"
	return &models.Case{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Title:       "Contestație",
		State:       models.StateCreated,
		QuotaStatus: models.QuotaPending,
		Details:     details,
	}
}

// =============================================================================
// Case Store
// =============================================================================

func (s *PostgresSuite) TestCaseRoundTrip() {
	ctx := context.Background()
	c := s.newCase()
	c.PendingInputs = models.UserInputs{{EventID: "e1", Narrative: "hello"}}

	s.Require().NoError(s.cases.Create(ctx, c))
	s.Equal(int64(1), c.Version)
	s.ErrorIs(s.cases.Create(ctx, c), ErrVersionConflict)

	loaded, err := s.cases.Load(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.Details.Facts, loaded.Details.Facts)
	s.Require().Len(loaded.PendingInputs, 1)
	s.Equal("e1", loaded.PendingInputs[0].EventID)
	s.Nil(loaded.LatestPlan)
	s.Nil(loaded.Stall)

	loaded.Tier = models.TierAdministrative
	loaded.LatestPlan = &models.Plan{Version: 1, Steps: []models.PlanStep{{Title: "Plângere contravențională"}}}
	loaded.MoveTo(models.StateQuotaCheck, "classified", loaded.UpdatedAt)
	s.Require().NoError(s.cases.Commit(ctx, 1, loaded))
	s.Equal(int64(2), loaded.Version)

	again, err := s.cases.Load(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.TierAdministrative, again.Tier)
	s.Equal(models.StateQuotaCheck, again.State)
	s.Require().NotNil(again.LatestPlan)
	s.Equal("Plângere contravențională", again.LatestPlan.Steps[0].Title)
	s.Len(again.History, 1)
}

func (s *PostgresSuite) TestCommitConflicts() {
	ctx := context.Background()
	c := s.newCase()
	s.Require().NoError(s.cases.Create(ctx, c))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine, err := s.cases.Load(ctx, c.ID)
			if err != nil {
				errs <- err
				return
			}
			errs <- s.cases.Commit(ctx, 1, mine)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		if err == nil {
			ok++
		} else if s.ErrorIs(err, ErrVersionConflict) {
			conflicts++
		}
	}
	s.Equal(1, ok)
	s.Equal(7, conflicts)

	missing := s.newCase()
	s.ErrorIs(s.cases.Commit(ctx, 1, missing), ErrNotFound)
}

// =============================================================================
// Drafts
// =============================================================================

func (s *PostgresSuite) TestDraftsSupersede() {
	ctx := context.Background()
	c := s.newCase()
	s.Require().NoError(s.cases.Create(ctx, c))

	first := &models.Draft{ID: models.DraftID(c.ID, 5, 1), CaseID: c.ID, PlanVersion: 1, Content: "# v1"}
	second := &models.Draft{ID: models.DraftID(c.ID, 9, 2), CaseID: c.ID, PlanVersion: 2, Content: "# v2"}
	s.Require().NoError(s.drafts.AppendDraft(ctx, first))
	s.Require().NoError(s.drafts.AppendDraft(ctx, second))
	s.Require().NoError(s.drafts.AppendDraft(ctx, second))

	drafts, err := s.drafts.ListDrafts(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(drafts, 2)
	s.Equal(second.ID, drafts[0].ID)
	s.Equal(models.DraftGenerated, drafts[0].Status)
	s.Equal(models.DraftSuperseded, drafts[1].Status)

	s.Require().NoError(s.drafts.MarkDelivered(ctx, second.ID))
	got, err := s.drafts.GetDraft(ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(models.DraftDelivered, got.Status)
}

func (s *PostgresSuite) TestCommitWithDraftIsAtomic() {
	ctx := context.Background()
	c := s.newCase()
	s.Require().NoError(s.cases.Create(ctx, c))

	older := &models.Draft{ID: models.DraftID(c.ID, 1, 1), CaseID: c.ID, PlanVersion: 1, Content: "# v1"}
	s.Require().NoError(s.drafts.AppendDraft(ctx, older))

	winner, err := s.cases.Load(ctx, c.ID)
	s.Require().NoError(err)
	winner.State = models.StateQuotaCheck
	s.Require().NoError(s.cases.Commit(ctx, 1, winner))

	lost := c.Clone()
	lost.State = models.StateGathering
	orphan := &models.Draft{ID: models.DraftID(c.ID, 1, 2), CaseID: c.ID, PlanVersion: 2, Content: "# lost"}
	s.ErrorIs(s.cases.CommitWithDraft(ctx, 1, lost, orphan), ErrVersionConflict)

	_, err = s.drafts.GetDraft(ctx, orphan.ID)
	s.ErrorIs(err, ErrNotFound)

	cur, err := s.cases.Load(ctx, c.ID)
	s.Require().NoError(err)
	cur.State = models.StateGathering
	draft := &models.Draft{ID: models.DraftID(c.ID, 2, 2), CaseID: c.ID, PlanVersion: 2, Content: "# v2"}
	s.Require().NoError(s.cases.CommitWithDraft(ctx, 2, cur, draft))
	s.Equal(int64(3), cur.Version)

	drafts, err := s.drafts.ListDrafts(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(drafts, 2)
	s.Equal(draft.ID, drafts[0].ID)
	s.Equal(models.DraftGenerated, drafts[0].Status)
	s.Equal(models.DraftSuperseded, drafts[1].Status)
}

// =============================================================================
// Quota
// =============================================================================

func (s *PostgresSuite) TestQuotaReserveIsAtomic() {
	ctx := context.Background()
	account := "user:" + uuid.NewString()

	const workers = 10
	var wg sync.WaitGroup
	granted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.quota.Reserve(ctx, account, models.TierStandard, 2, uuid.NewString(), 6)
			s.NoError(err)
			granted <- err == nil && res.Granted()
		}(i)
	}
	wg.Wait()
	close(granted)

	count := 0
	for g := range granted {
		if g {
			count++
		}
	}
	s.Equal(3, count)

	entry, err := s.quota.Get(ctx, account, models.TierStandard)
	s.Require().NoError(err)
	s.Equal(6, entry.Consumed)
}

func (s *PostgresSuite) TestQuotaReplayAndPayment() {
	ctx := context.Background()
	account := "org:" + uuid.NewString()

	res, err := s.quota.Reserve(ctx, account, models.TierAdministrative, 1, "case-1:1", 1)
	s.Require().NoError(err)
	s.True(res.Granted())

	res, err = s.quota.Reserve(ctx, account, models.TierAdministrative, 1, "case-1:1", 1)
	s.Require().NoError(err)
	s.True(res.Granted())
	s.True(res.Replayed)
	s.Equal(1, res.Entry.Consumed)

	res, err = s.quota.Reserve(ctx, account, models.TierAdministrative, 1, "case-2:1", 1)
	s.Require().NoError(err)
	s.False(res.Granted())

	entry, applied, err := s.quota.AddCredits(ctx, account, models.TierAdministrative, 2, "pay-1", 1)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(3, entry.Allotted)

	_, applied, err = s.quota.AddCredits(ctx, account, models.TierAdministrative, 2, "pay-1", 1)
	s.Require().NoError(err)
	s.False(applied)
}
