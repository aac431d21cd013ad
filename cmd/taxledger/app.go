package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taxledger/internal/booking"
	"github.com/mtlprog/taxledger/internal/classifier"
	"github.com/mtlprog/taxledger/internal/config"
	"github.com/mtlprog/taxledger/internal/database"
	"github.com/mtlprog/taxledger/internal/journal"
	"github.com/mtlprog/taxledger/internal/ledger"
	"github.com/mtlprog/taxledger/internal/predict"
	"github.com/mtlprog/taxledger/internal/price"
	"github.com/mtlprog/taxledger/internal/store"
	"github.com/mtlprog/taxledger/internal/taxreport"
)

// components is the wired object graph shared by the commands.
type components struct {
	pool       *pgxpool.Pool
	store      store.Store
	prices     *price.Service
	ledger     *ledger.Ledger
	poster     *journal.Poster
	booker     *booking.Booker
	predictor  *predict.Engine
	classifier *classifier.Classifier
	reports    *taxreport.Aggregator
}

// open wires the components over PostgreSQL, or over in-process storage when memory is set.
func open(ctx context.Context, cfg config.Config, memory bool) (*components, error) {
	c := &components{}

	var quotes price.QuoteRepository
	var summaries taxreport.Repository
	if memory {
		slog.Warn("using in-memory storage, nothing will be persisted")
		c.store = store.NewMemoryStore()
		quotes = price.NewMemoryQuoteRepository()
		summaries = taxreport.NewMemoryRepository()
	} else {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, pool, migrations()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		c.pool = pool
		c.store = store.NewPgStore(pool)
		quotes = price.NewPgQuoteRepository(pool)
		summaries = taxreport.NewPgRepository(pool)
	}

	c.prices = price.NewService(quotes, cfg.PriceCacheTTL, cfg.PriceMaxAge)
	c.ledger = ledger.NewLedger(c.store)
	c.poster = journal.NewPoster(c.store)
	c.booker = booking.NewBooker(c.ledger, c.poster, c.prices, c.store)
	c.predictor = predict.NewEngine(c.ledger)
	c.classifier = newClassifier(cfg)
	c.reports = taxreport.NewAggregator(c.store, c.prices, summaries, cfg.ReportTimeout)
	return c, nil
}

func newClassifier(cfg config.Config) *classifier.Classifier {
	return classifier.New(classifier.Config{
		Epsilons:            cfg.ClassifierEpsilons,
		StakingContracts:    cfg.StakingContracts,
		AirdropDistributors: cfg.AirdropDistributors,
		Concurrency:         cfg.ClassifierConcurrency,
	})
}

func (c *components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
