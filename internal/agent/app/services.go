// Package app wires the orchestrator graph together: the Services bundle,
// the bounded-cycle turn loop, and the tools/post_process nodes that need
// both the domain state and the tool registry/store (and therefore cannot
// live in internal/agent/domain without an import cycle).
package app

import (
	"context"
	"fmt"
	"time"

	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/logging"
	"morada/internal/pipeline"
	"morada/internal/store"
	"morada/internal/summaries"
	"morada/internal/toolregistry"
)

// MaxCycles is the hard ceiling on agent/tools/reflect cycles within a
// single turn.
const MaxCycles = 12

// ErrTurnBudgetExceeded is returned when a turn does not terminate within
// MaxCycles.
var ErrTurnBudgetExceeded = fmt.Errorf("turn budget exceeded after %d cycles", MaxCycles)

// Services is the single record passed to every node and tool; nothing is
// read from globals.
type Services struct {
	Store     store.Store
	LLM       ports.LLMClient
	Pipeline  *pipeline.Pipeline
	Tools     *toolregistry.Registry
	Logger    logging.Logger
	Now       func() time.Time
	CallTimeout time.Duration
}

// NewServices builds a Services bundle with production defaults.
func NewServices(st store.Store, llm ports.LLMClient, pl *pipeline.Pipeline) *Services {
	return &Services{
		Store: st, LLM: llm, Pipeline: pl, Tools: toolregistry.NewBuiltin(),
		Logger: logging.NewComponentLogger("orchestrator"), Now: time.Now, CallTimeout: 60 * time.Second,
	}
}

// storeHydratorAdapter adapts store.Store to domain.StoreHydrator's narrow
// interface, keeping domain free of a dependency on internal/store.
type storeHydratorAdapter struct{ store.Store }

func (a storeHydratorAdapter) Hydrate(ctx context.Context, userID string) (domain.HydrateData, error) {
	result, err := a.Store.Hydrate(ctx, userID)
	if err != nil {
		return domain.HydrateData{}, err
	}

	data := domain.HydrateData{LastSessionSummary: result.LastSessionSummary}
	if result.Profile != nil {
		data.ProfileSummary = result.Profile.MasterSummary
	}

	views := make([]summaries.PortfolioItemView, 0, len(result.ActivePortfolioItems))
	for _, it := range result.ActivePortfolioItems {
		views = append(views, summaries.PortfolioItemView{ID: it.ID, Nickname: it.Nickname, Location: it.Location, Archived: it.Archived})
	}
	data.PortfolioIndex = summaries.PortfolioIndex(views)

	for _, it := range result.ActivePortfolioItems {
		if !it.IsActive {
			continue
		}
		data.ActivePropertyID = it.PropertyID
		analysis, err := a.Store.GetLatestAnalysis(ctx, userID, it.PropertyID, store.AnalysisSummary)
		if err == nil && analysis != nil {
			data.ActiveResumo = analysis.Narrative
		}
		break
	}
	return data, nil
}

func (a storeHydratorAdapter) CreateConversation(ctx context.Context, userID string) (string, error) {
	return a.Store.CreateConversation(ctx, userID)
}
