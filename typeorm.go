// Package typeorm is the relation persistence and lazy loading engine: it
// saves graphs of related entity instances in an order that satisfies
// foreign-key constraints and hydrates entities whose relations load on
// first consultation.
//
// SQL generation, pooling and transactions stay behind the store.Store and
// store.QueryPlanner collaborators; sqlstore ships a database/sql-backed
// implementation of both.
package typeorm

import (
	"sync"

	"github.com/martinschleiss/typeorm/logger"
	"github.com/martinschleiss/typeorm/persist"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Config engine configuration
type Config struct {
	// NamingStrategy tables, columns naming strategy
	NamingStrategy schema.Namer
	// Logger used for traces and warnings; logger.Default when unset
	Logger logger.Interface
}

// Option configures Open
type Option func(*Config)

// WithNamingStrategy overrides the default snake-case plural naming
func WithNamingStrategy(namer schema.Namer) Option {
	return func(c *Config) { c.NamingStrategy = namer }
}

// WithLogger sets the logger
func WithLogger(l logger.Interface) Option {
	return func(c *Config) { c.Logger = l }
}

// DB drives saves and finds over the two store collaborators. It holds no
// mutable state beyond the metadata cache, so independent calls on unrelated
// entity graphs may run concurrently.
type DB struct {
	Config *Config

	store      store.Store
	planner    store.QueryPlanner
	cacheStore *sync.Map
	walker     *persist.Walker
	executor   *persist.Executor
}

// Open initializes a DB over the given collaborators.
func Open(st store.Store, planner store.QueryPlanner, opts ...Option) *DB {
	config := &Config{
		NamingStrategy: schema.NamingStrategy{},
		Logger:         logger.Default,
	}
	for _, opt := range opts {
		opt(config)
	}

	cacheStore := &sync.Map{}
	return &DB{
		Config:     config,
		store:      st,
		planner:    planner,
		cacheStore: cacheStore,
		walker:     persist.NewWalker(cacheStore, config.NamingStrategy),
		executor:   persist.NewExecutor(st, config.Logger),
	}
}

// Schema returns the cached entity metadata for a model value.
func (db *DB) Schema(value interface{}) (*schema.Schema, error) {
	return schema.Parse(value, db.cacheStore, db.Config.NamingStrategy)
}
