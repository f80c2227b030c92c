// searchctl runs a hybrid search against the index from the command line.
//
//	searchctl -q "베타 계수" -n 5
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"docstream/internal/config"
	"docstream/internal/embed"
	"docstream/internal/index"
	"docstream/internal/observability"
)

func main() {
	query := flag.String("q", "", "query text")
	limit := flag.Int("n", 10, "max results")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: searchctl -q <query> [-n limit]")
		os.Exit(2)
	}
	if err := run(*query, *limit); err != nil {
		log.Fatal().Err(err).Msg("searchctl")
	}
}

func run(query string, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", "warn")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("init postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := index.NewPostgres(ctx, pool, embed.New(cfg.Embeddings))
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}

	hits, err := store.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, hit := range hits {
		preview := hit.Content
		if len(preview) > 160 {
			preview = preview[:160] + "…"
		}
		fmt.Printf("%2d. doc=%s seg=%d status=%s\n    %s\n",
			i+1, hit.DocumentID, hit.SegmentIndex, hit.Status, preview)
	}
	return nil
}
