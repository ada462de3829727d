package scoring

import (
	"testing"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

func alert(kind domain.SubjectKind, id string, cat domain.Category, sev domain.Severity) domain.Alert {
	return domain.NewAlert(domain.Subject{Kind: kind, ID: id}, cat, sev, "test evidence")
}

func TestScore(t *testing.T) {
	e := NewEngine()

	t.Run("points sum per subject", func(t *testing.T) {
		entities := e.Score([]domain.Alert{
			alert(domain.SubjectUser, "bob", domain.CategoryTakeover, domain.SeverityHigh),
			alert(domain.SubjectUser, "bob", domain.CategoryTakeover, domain.SeverityMedium),
		})
		if len(entities) != 1 {
			t.Fatalf("entities = %d, want 1", len(entities))
		}
		got := entities[0]
		if got.Score != 35 {
			t.Errorf("score = %d, want 35", got.Score)
		}
		if got.Tier != domain.TierMedium {
			t.Errorf("tier = %s, want medium", got.Tier)
		}
	})

	t.Run("score is capped", func(t *testing.T) {
		var alerts []domain.Alert
		for i := 0; i < 4; i++ {
			alerts = append(alerts, alert(domain.SubjectAccount, "a1", domain.CategoryStructuring, domain.SeverityCritical))
		}
		entities := e.Score(alerts)
		if entities[0].Score != ScoreCap {
			t.Errorf("score = %d, want %d", entities[0].Score, ScoreCap)
		}
		if entities[0].Tier != domain.TierCritical {
			t.Errorf("tier = %s, want critical", entities[0].Tier)
		}
	})

	t.Run("subjects of different kinds never merge", func(t *testing.T) {
		entities := e.Score([]domain.Alert{
			alert(domain.SubjectAccount, "x", domain.CategoryStructuring, domain.SeverityHigh),
			alert(domain.SubjectUser, "x", domain.CategoryTakeover, domain.SeverityHigh),
		})
		if len(entities) != 2 {
			t.Fatalf("entities = %d, want 2", len(entities))
		}
	})

	t.Run("ordered by score then subject key", func(t *testing.T) {
		entities := e.Score([]domain.Alert{
			alert(domain.SubjectAccount, "low", domain.CategoryStructuring, domain.SeverityLow),
			alert(domain.SubjectAccount, "b", domain.CategoryStructuring, domain.SeverityCritical),
			alert(domain.SubjectAccount, "a", domain.CategoryStructuring, domain.SeverityCritical),
		})
		if entities[0].Subject.ID != "a" || entities[1].Subject.ID != "b" || entities[2].Subject.ID != "low" {
			t.Errorf("order = %s, %s, %s", entities[0].Subject.ID, entities[1].Subject.ID, entities[2].Subject.ID)
		}
	})

	t.Run("no alerts means no entities", func(t *testing.T) {
		if got := e.Score(nil); got != nil {
			t.Errorf("Score(nil) = %+v, want nil", got)
		}
	})

	t.Run("categories are distinct and sorted", func(t *testing.T) {
		entities := e.Score([]domain.Alert{
			alert(domain.SubjectUser, "bob", domain.CategoryTakeover, domain.SeverityHigh),
			alert(domain.SubjectUser, "bob", domain.CategoryDormantAbuse, domain.SeverityLow),
			alert(domain.SubjectUser, "bob", domain.CategoryTakeover, domain.SeverityLow),
		})
		got := entities[0].Categories
		if len(got) != 2 || got[0] != domain.CategoryTakeover || got[1] != domain.CategoryDormantAbuse {
			t.Errorf("categories = %v", got)
		}
	})
}

func TestCriticalEntities(t *testing.T) {
	e := NewEngine()
	entities := e.Score([]domain.Alert{
		alert(domain.SubjectAccount, "hot", domain.CategoryStructuring, domain.SeverityCritical),
		alert(domain.SubjectAccount, "hot", domain.CategoryStructuring, domain.SeverityCritical),
		alert(domain.SubjectAccount, "warm", domain.CategoryStructuring, domain.SeverityHigh),
	})

	critical := CriticalEntities(entities)
	if len(critical) != 1 || critical[0].Subject.ID != "hot" {
		t.Fatalf("critical = %+v", critical)
	}

	counts := TierCounts(entities)
	if counts[domain.TierCritical] != 1 || counts[domain.TierMedium] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
