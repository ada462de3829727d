// Package scoring aggregates detector alerts into per-entity composite
// scores. Scoring is additive: an entity hit by several independent
// signatures outranks an entity with one worse alert.
package scoring

import (
	"sort"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

// ScoreCap bounds the composite score so one noisy entity cannot run away
// from the tier scale.
const ScoreCap = 100

// Engine turns a flat alert list into scored, tiered entities.
type Engine struct {
	cap int
}

// NewEngine creates a scoring engine with the standard cap.
func NewEngine() *Engine {
	return &Engine{cap: ScoreCap}
}

// Score groups alerts by subject, sums severity points capped at ScoreCap,
// and assigns tiers. Entities come back ordered by score descending, then
// subject key ascending, so the output is stable for identical input sets.
// Subjects with no alerts never appear.
func (e *Engine) Score(alerts []domain.Alert) []domain.ScoredEntity {
	if len(alerts) == 0 {
		return nil
	}

	grouped := make(map[string][]domain.Alert)
	order := make([]string, 0)
	for _, a := range alerts {
		key := a.Subject.Key()
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], a)
	}

	entities := make([]domain.ScoredEntity, 0, len(grouped))
	for _, key := range order {
		group := grouped[key]
		score := 0
		for _, a := range group {
			score += a.Points
		}
		if score > e.cap {
			score = e.cap
		}
		entities = append(entities, domain.ScoredEntity{
			Subject:    group[0].Subject,
			Categories: domain.DistinctCategories(group),
			Score:      score,
			Tier:       domain.TierForScore(score),
			Alerts:     group,
		})
	}

	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		return entities[i].Subject.Key() < entities[j].Subject.Key()
	})
	return entities
}

// CriticalEntities filters entities in the critical tier; the pipeline
// publishes these on the alert topic.
func CriticalEntities(entities []domain.ScoredEntity) []domain.ScoredEntity {
	var out []domain.ScoredEntity
	for _, e := range entities {
		if e.Tier == domain.TierCritical {
			out = append(out, e)
		}
	}
	return out
}

// TierCounts tallies entities per tier for scan summaries.
func TierCounts(entities []domain.ScoredEntity) map[domain.Tier]int {
	counts := make(map[domain.Tier]int)
	for _, e := range entities {
		counts[e.Tier]++
	}
	return counts
}
