// ingest-legal loads legal source texts into legal_chunks so engine lookup
// directives can be answered by similarity search.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"casedraft-backend/config"
	"casedraft-backend/lookup"
	"casedraft-backend/models"
	"casedraft-backend/repository"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// maxBatch is the Gemini limit on contents per batch embedding call
const maxBatch = 100

type options struct {
	dir          string
	jurisdiction string
	maxWords     int
	overlap      int
	perSecond    float64
}

func main() {
	var opts options
	flag.StringVar(&opts.dir, "dir", "./legal_sources", "directory of .txt/.md legal sources")
	flag.StringVar(&opts.jurisdiction, "jurisdiction", "RO", "jurisdiction code stored on every chunk")
	flag.IntVar(&opts.maxWords, "max-words", 400, "approximate words per chunk")
	flag.IntVar(&opts.overlap, "overlap", 40, "words shared by consecutive chunks")
	flag.Float64Var(&opts.perSecond, "rate", 1, "embedding batches per second")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(context.Background(), logger, opts); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	var tableExists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'legal_chunks')").Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check table existence: %w", err)
	}
	if !tableExists {
		return errors.New("legal_chunks table does not exist, run cmd/create-schema first")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := cfg.Gemini.EmbeddingModel
	if model == "" {
		model = lookup.DefaultEmbeddingModel
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	ing := &ingester{
		embedder: em,
		chunks:   repository.NewLegalChunkRepository(pool),
		limiter:  rate.NewLimiter(rate.Limit(opts.perSecond), 1),
		logger:   logger,
		opts:     opts,
	}

	files, err := os.ReadDir(opts.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.dir, err)
	}

	var stored, failed int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		n, err := ing.ingestFile(ctx, filepath.Join(opts.dir, file.Name()))
		if err != nil {
			failed++
			logger.Error("document skipped", "file", file.Name(), "error", err)
			continue
		}
		stored += n
	}

	logger.Info("ingest complete", "chunks", stored, "failed_documents", failed)
	return nil
}

type ingester struct {
	embedder *genai.EmbeddingModel
	chunks   *repository.LegalChunkRepository
	limiter  *rate.Limiter
	logger   *slog.Logger
	opts     options
}

func (ing *ingester) ingestFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	content := string(raw)
	filename := filepath.Base(path)

	sourceType := detectSourceType(filename, content)
	texts := chunkText(content, ing.opts.maxWords, ing.opts.overlap)
	if len(texts) == 0 {
		return 0, errors.New("document is empty")
	}
	ing.logger.Info("processing document", "file", filename, "type", sourceType, "chunks", len(texts))

	citation := citationOf(content)
	start := time.Now()
	for offset := 0; offset < len(texts); offset += maxBatch {
		end := min(offset+maxBatch, len(texts))
		embeddings, err := ing.embed(ctx, texts[offset:end])
		if err != nil {
			return offset, fmt.Errorf("failed to embed chunks %d-%d: %w", offset, end-1, err)
		}

		for i, text := range texts[offset:end] {
			chunk := &models.LegalChunk{
				Text:           text,
				SourceType:     sourceType,
				SourceDocument: filename,
				Jurisdiction:   ing.opts.jurisdiction,
				ChunkIndex:     offset + i,
				Metadata:       map[string]interface{}{"words": len(strings.Fields(text))},
			}
			if citation != "" {
				chunk.Citation = &citation
			}
			if err := ing.chunks.Upsert(ctx, chunk, embeddings[i]); err != nil {
				return offset + i, fmt.Errorf("failed to store chunk %d: %w", offset+i, err)
			}
		}
	}

	ing.logger.Info("document stored", "file", filename, "chunks", len(texts), "duration", time.Since(start))
	return len(texts), nil
}

func (ing *ingester) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ing.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	batch := ing.embedder.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := ing.embedder.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(res.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding for chunk %d", i)
		}
		out[i] = lookup.Normalize(e.Values)
	}
	return out, nil
}
