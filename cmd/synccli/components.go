package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/airweave-ai/airweave-sync/internal/checkpoint"
	"github.com/airweave-ai/airweave-sync/internal/completionqueue"
	synccfg "github.com/airweave-ai/airweave-sync/internal/config"
	"github.com/airweave-ai/airweave-sync/internal/destinations"
	"github.com/airweave-ai/airweave-sync/internal/docstore"
	"github.com/airweave-ai/airweave-sync/internal/localembed"
	"github.com/airweave-ai/airweave-sync/internal/logging"
	"github.com/airweave-ai/airweave-sync/internal/pipeline"
	"github.com/airweave-ai/airweave-sync/internal/resolver"
)

// components bundles every long-lived dependency an Orchestrator run needs,
// mirroring runServer's service-initialization block in cli/root.go:
// RabbitMQ/CouchDB/JWT there becomes Postgres/CouchDB/Neo4j/Qdrant/Vespa/
// bbolt here.
type components struct {
	cfg        *synccfg.SyncRuntimeConfig
	logger     *logging.ContextLogger
	db         *gorm.DB
	resolver   *resolver.Resolver
	docs       *docstore.Store
	checkpoint *checkpoint.Store
	completion completionqueue.Publisher
	pipeline   *pipeline.Pipeline

	qdrant *destinations.Qdrant
	vespa  *destinations.Vespa
	neo4j  *destinations.Neo4jGraph
}

func buildComponents(ctx context.Context) (*components, error) {
	cfg, err := synccfg.Load(envPrefix)
	if err != nil {
		return nil, fmt.Errorf("synccli: loading runtime config: %w", err)
	}

	baseLogger := logging.NewLogger(logging.Config{
		Level:  logging.Level(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	logger := logging.ServiceLogger(baseLogger, cfg.ServiceName, "dev")

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("synccli: connecting to postgres: %w", err)
	}
	res := resolver.New(db)
	if err := res.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("synccli: migrating entity storage: %w", err)
	}

	docs, err := docstore.Open(ctx, docstore.Config{
		URL:             cfg.CouchDBURL,
		Database:        "airweave_sync",
		Timeout:         cfg.Timeouts.DBQuery,
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("synccli: opening document store: %w", err)
	}

	cp, err := checkpoint.Open(cfg.BoltPath)
	if err != nil {
		return nil, fmt.Errorf("synccli: opening cursor store: %w", err)
	}

	var completion completionqueue.Publisher
	if cfg.CompletionQueueURL != "" {
		cq, err := completionqueue.New(completionqueue.Config{URL: cfg.CompletionQueueURL, QueueName: cfg.CompletionQueueName})
		if err != nil {
			return nil, fmt.Errorf("synccli: connecting to completion queue: %w", err)
		}
		completion = cq
	}

	p := pipeline.New(pipeline.Config{
		Converters: map[string]pipeline.Converter{
			".txt":  localembed.PlainTextConverter{},
			".md":   localembed.PlainTextConverter{},
			".csv":  localembed.PlainTextConverter{},
			".json": localembed.PlainTextConverter{},
			".html": localembed.PlainTextConverter{},
		},
		TextBuilder: localembed.TextBuilder{},
		Dense:       localembed.DenseEmbedder{},
		Sparse:      localembed.SparseEmbedder{},
		Collections: docs,
	}, logger)

	c := &components{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		resolver:   res,
		docs:       docs,
		checkpoint: cp,
		completion: completion,
		pipeline:   p,
	}

	if viper.GetBool("destination.qdrant") {
		c.qdrant = destinations.NewQdrant(cfg.QdrantURL, viper.GetString("destination.qdrant-api-key"), cfg.Timeouts.DestinationBulk)
	}
	if viper.GetBool("destination.vespa") {
		schema := viper.GetString("destination.vespa-schema")
		if schema == "" {
			schema = "airweave_entities"
		}
		c.vespa = destinations.NewVespa(cfg.VespaURL, schema, cfg.Timeouts.DestinationBulk)
	}
	if viper.GetBool("destination.neo4j") {
		graph, err := destinations.NewNeo4jGraph(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, fmt.Errorf("synccli: connecting to neo4j: %w", err)
		}
		c.neo4j = graph
	}

	return c, nil
}

func (c *components) Close() {
	if sqlDB, err := c.db.DB(); err == nil {
		sqlDB.Close()
	}
	c.docs.Close()
	c.checkpoint.Close()
	if c.completion != nil {
		c.completion.Close()
	}
	if c.neo4j != nil {
		c.neo4j.Close(context.Background())
	}
}

func (c *components) vectorDestinations() []destinations.VectorDB {
	var out []destinations.VectorDB
	if c.qdrant != nil {
		out = append(out, c.qdrant)
	}
	if c.vespa != nil {
		out = append(out, c.vespa)
	}
	return out
}

func (c *components) graphDestinations() []destinations.GraphDB {
	var out []destinations.GraphDB
	if c.neo4j != nil {
		out = append(out, c.neo4j)
	}
	return out
}
