package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"casedraft-backend/config"
	"casedraft-backend/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	withLegal := flag.Bool("legal", true, "also create the legal_chunks table (needs pgvector)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, repository.CaseSchema); err != nil {
		logger.Error("failed to create case schema", "error", err)
		os.Exit(1)
	}
	logger.Info("case, draft and quota tables ready")

	if !*withLegal {
		return
	}
	if _, err := pool.Exec(ctx, repository.LegalChunkSchema); err != nil {
		// pgvector may need superuser rights; the case tables are still usable
		logger.Warn("failed to create legal chunk schema", "error", err)
		return
	}
	logger.Info("legal_chunks table ready")
}
