// seed-quota grants credits to a quota account outside the payment flow,
// e.g. for test users or support gestures.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"casedraft-backend/config"
	"casedraft-backend/ledger"
	"casedraft-backend/models"
	"casedraft-backend/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	user := flag.String("user", "", "user id (required unless -org is set)")
	org := flag.String("org", "", "organization id; credits the shared account")
	tierName := flag.String("tier", "administrative", "tier to credit")
	credits := flag.Int("credits", 1, "credits to add")
	ref := flag.String("ref", "", "idempotency reference (default: generated)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(logger, *user, *org, *tierName, *credits, *ref); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, user, org, tierName string, credits int, ref string) error {
	identity, err := parseIdentity(user, org)
	if err != nil {
		return err
	}
	tier, err := models.ParseTier(tierName)
	if err != nil {
		return err
	}
	if ref == "" {
		ref = "seed-" + uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	l, err := ledger.New(repository.NewQuotaRepository(pool),
		ledger.WithDefaultAllotments(cfg.Ledger.DefaultAllotments),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	entry, err := l.ConfirmPayment(ctx, identity, tier, credits, ref)
	if err != nil {
		return err
	}
	logger.Info("credits granted",
		"account", entry.Account,
		"tier", entry.Tier.String(),
		"allotted", entry.Allotted,
		"consumed", entry.Consumed,
		"remaining", entry.Remaining(),
		"ref", ref,
	)
	return nil
}

func parseIdentity(user, org string) (models.Identity, error) {
	var identity models.Identity
	if user != "" {
		id, err := uuid.Parse(user)
		if err != nil {
			return identity, fmt.Errorf("invalid -user: %w", err)
		}
		identity.UserID = id
	}
	if org != "" {
		id, err := uuid.Parse(org)
		if err != nil {
			return identity, fmt.Errorf("invalid -org: %w", err)
		}
		identity.OrganizationID = &id
	}
	if identity.UserID == uuid.Nil && identity.OrganizationID == nil {
		return identity, fmt.Errorf("-user or -org is required")
	}
	return identity, nil
}
