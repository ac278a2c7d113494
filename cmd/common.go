/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/cache"
	"github.com/valpere/politone/internal/config"
	"github.com/valpere/politone/internal/detector"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/logging"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/rewriter"
	"github.com/valpere/politone/internal/store"
	"github.com/valpere/politone/internal/transform"
	"github.com/valpere/politone/internal/validator"
)

// app holds everything a command needs to run transformations.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *store.Store
	cache   *cache.Cache
	service *transform.Service
	// health is nil when the capability has no cheap liveness check.
	health func(ctx context.Context) error
}

// availabilityChecker is implemented by capabilities that can report
// liveness without running a completion.
type availabilityChecker interface {
	IsAvailable(ctx context.Context) error
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildApp wires the pipeline from cfg: one capability shared by analysis
// and generation, the rule validator, the result cache and history.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	capability, err := llm.New(ctx, cfg.CapabilityConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s capability: %w", cfg.LLM.Provider, err)
	}

	rules := validator.DefaultRules()
	if cfg.Rules.Path != "" {
		rules, err = validator.LoadRules(cfg.Rules.Path)
		if err != nil {
			return nil, err
		}
	}

	db, err := openStore(cfg.Cache.DBPath)
	if err != nil {
		return nil, err
	}

	pipeline := orchestrator.New(
		analysis.New(capability, cfg.AnalysisConfig(), logger),
		rewriter.New(capability, detector.New(), cfg.RewriterConfig(), logger),
		validator.New(rules),
		cfg.PipelineConfig(),
		logger,
	).WithTerms(db)

	var backend cache.Backend
	if cfg.Cache.Enabled {
		backend = db
	}
	c := cache.New(cfg.CacheSettings(), backend, logger)

	logger.Debug("pipeline ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.Int("tiers", len(cfg.LLM.Tiers)),
		zap.String("db", cfg.Cache.DBPath),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		cache:   c,
		service: transform.New(pipeline, c, db, logger),
	}
	if ac, ok := capability.(availabilityChecker); ok {
		a.health = ac.IsAvailable
	}
	return a, nil
}

// withStore opens the configured database for the maintenance commands,
// which need neither a capability nor a pipeline.
func withStore(fn func(ctx context.Context, db *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg.Cache.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}
