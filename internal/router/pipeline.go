package router

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llmgateway/gateway/internal/budget"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/contextengine"
	"github.com/llmgateway/gateway/internal/gatewaystore"
	gwmodels "github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/modelrouter"
	"github.com/llmgateway/gateway/internal/pipeline"
	"github.com/llmgateway/gateway/internal/providers"
	svcmodels "github.com/llmgateway/gateway/internal/services/models"
	"github.com/llmgateway/gateway/internal/vectorstore"
)

// buildPipeline wires the Adaptive Model Router, Context Engineering
// Engine, and Token/Budget Manager on top of the already-loaded model
// instances and returns the serving pipeline they feed. It returns nil
// when no database is available -- the caller falls back to the
// teacher's static priority-based selection, matching lite mode's
// existing degradation story.
func buildPipeline(cfg *config.Config, logger *zap.Logger, modelManager *svcmodels.ModelManager, db *gorm.DB, redisClient *redis.Client) *pipeline.Pipeline {
	if db == nil {
		return nil
	}

	mr := modelrouter.New(cfg.AdaptiveRouter.ToRouterConfig(), logger)
	embedderSource := registerModels(context.Background(), mr, modelManager, logger)
	mr.Start(context.Background())

	refreshInterval := cfg.AdaptiveRouter.ModelRefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = 10 * time.Minute
	}
	go modelRefreshLoop(context.Background(), mr, modelManager, logger, refreshInterval)

	relational := gatewaystore.NewRelational(db)
	kv := gatewaystore.NewKV(redisClient)
	budgetMgr := budget.New(cfg.Budget.ToBudgetConfig(), relational, kv, logger)
	budgetMgr.Start(context.Background())

	var engine *contextengine.Engine
	if cfg.ContextEngine.VectorStoreDSN == "" {
		logger.Info("context_engine.vector_store_dsn not set, context engineering disabled")
	} else if embedderSource == nil {
		logger.Warn("no model instance available to serve embeddings, context engineering disabled")
	} else if vectorStore, err := vectorstore.New(cfg.ContextEngine.VectorStoreDSN, cfg.ContextEngine.EmbeddingDimensions); err != nil {
		logger.Warn("vector store unavailable, context engineering disabled", zap.Error(err))
	} else {
		embedder := providers.NewEmbedder(embedderSource.Provider, cfg.ContextEngine.EmbeddingModel)
		engine = contextengine.New(cfg.ContextEngine.ToEngineConfig(), vectorStore, embedder, relational, logger)
		engine.Start(context.Background())
	}

	return pipeline.New(mr, engine, budgetMgr, logger)
}

// registerModels performs the router's initial, full-fidelity model
// registration from the already-loaded model instances (pricing and
// capability data live in the instance config, not on the provider client
// itself). It returns an instance to source embeddings from, if any.
func registerModels(ctx context.Context, mr *modelrouter.Router, modelManager *svcmodels.ModelManager, logger *zap.Logger) *svcmodels.ModelInstance {
	var embedderSource *svcmodels.ModelInstance
	for _, inst := range modelManager.AllInstances() {
		descriptor := toModelDescriptor(inst)
		mr.Register(descriptor, providers.New(inst.Provider, nil, logger))
		if embedderSource == nil {
			embedderSource = inst
		}
	}
	return embedderSource
}

// modelRefreshLoop periodically re-confirms every registered model against
// its provider's own ListModels, the router's refresh-on-provider-reconnect
// path. A model whose provider stops listing it is logged and left alone
// rather than torn down: its existing performance/circuit history still
// governs selection, and a transient ListModels failure must not disturb
// live-but-unreachable bookkeeping.
func modelRefreshLoop(ctx context.Context, mr *modelrouter.Router, modelManager *svcmodels.ModelManager, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshModels(ctx, mr, modelManager, logger)
		}
	}
}

func refreshModels(ctx context.Context, mr *modelrouter.Router, modelManager *svcmodels.ModelManager, logger *zap.Logger) {
	for _, inst := range modelManager.AllInstances() {
		adapter := providers.New(inst.Provider, nil, logger)
		descriptor := toModelDescriptor(inst)

		listed, err := adapter.ListModels(ctx)
		if err != nil {
			if logger != nil {
				logger.Warn("model refresh: provider ListModels failed, keeping existing registration",
					zap.String("provider", descriptor.Provider), zap.Error(err))
			}
			continue
		}

		if !providerStillListsModel(listed, descriptor.ID) {
			if logger != nil {
				logger.Warn("model refresh: provider no longer lists a configured model",
					zap.String("provider", descriptor.Provider), zap.String("model", descriptor.ID))
			}
			continue
		}

		mr.Register(descriptor, adapter)
	}
}

func providerStillListsModel(listed []gwmodels.ModelDescriptor, modelID string) bool {
	for _, d := range listed {
		if strings.EqualFold(d.ID, modelID) {
			return true
		}
	}
	return false
}

func toModelDescriptor(inst *svcmodels.ModelInstance) gwmodels.ModelDescriptor {
	c := inst.Config
	avgCostPerToken := (c.InputCostPerToken + c.OutputCostPerToken) / 2
	return gwmodels.ModelDescriptor{
		Provider:          c.Provider.Type,
		ID:                c.ModelName,
		MaxTokens:         c.ModelInfo.MaxOutputTokens,
		ContextLength:     c.ModelInfo.MaxTokens,
		CostPer1kTokens:   decimal.NewFromFloat(avgCostPerToken * 1000),
		CapabilityScore:   0.5,
		SupportsStreaming: c.ModelInfo.SupportsStreaming,
		SupportsTools:     c.ModelInfo.SupportsFunctions,
		SupportsVision:    c.ModelInfo.SupportsVision,
	}
}
