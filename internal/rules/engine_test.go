package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func screenRule(id, expr string) *domain.ScreenRule {
	return &domain.ScreenRule{
		ID:         id,
		TenantID:   "tenant-1",
		Name:       id,
		Expression: expr,
		Category:   domain.CategoryStructuring,
		Severity:   domain.SeverityMedium,
		Enabled:    true,
	}
}

func testTx(id, acct string, amount float64) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		AccountID: acct,
		Amount:    decimal.NewFromFloat(amount),
		PostedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Type:      "transfer",
		Memo:      "wire out",
	}
}

func TestValidateRule(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "valid boolean expression", expr: "abs_amount > 9000.0 && is_outflow"},
		{name: "memo matching", expr: `memo.contains("wire")`},
		{name: "syntax error", expr: "abs_amount >>> 1", wantErr: true},
		{name: "unknown variable", expr: "no_such_var > 1.0", wantErr: true},
		{name: "non-boolean result", expr: "abs_amount + 1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateRule(screenRule("r1", tt.expr))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if e.RulesCount() != 0 {
		t.Errorf("ValidateRule must not load rules, count = %d", e.RulesCount())
	}
}

func TestScreen(t *testing.T) {
	e := newTestEngine(t)
	err := e.LoadRules([]*domain.ScreenRule{
		screenRule("near-threshold", "abs_amount >= 9000.0 && abs_amount < 10000.0"),
		screenRule("wire-memo", `memo.contains("wire") && is_outflow`),
		{ID: "disabled", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if e.RulesCount() != 2 {
		t.Fatalf("RulesCount() = %d, want 2 (disabled rule excluded)", e.RulesCount())
	}

	txs := []domain.Transaction{
		testTx("t1", "acct-1", 9500),  // near-threshold only: inflow, memo rule needs outflow
		testTx("t2", "acct-2", -9800), // both rules
		testTx("t3", "acct-3", -500),  // wire-memo only
	}

	alerts := e.Screen(context.Background(), txs)
	if len(alerts) != 4 {
		t.Fatalf("alerts = %d, want 4: %+v", len(alerts), alerts)
	}

	byAccount := make(map[string]int)
	for _, a := range alerts {
		byAccount[a.Subject.ID]++
		if a.Category != domain.CategoryStructuring || a.Severity != domain.SeverityMedium {
			t.Errorf("alert carries wrong rule metadata: %+v", a)
		}
	}
	if byAccount["acct-1"] != 1 || byAccount["acct-2"] != 2 || byAccount["acct-3"] != 1 {
		t.Errorf("alerts per account = %v", byAccount)
	}
}

func TestReloadRules(t *testing.T) {
	e := newTestEngine(t)
	if err := e.LoadRule(screenRule("old", "abs_amount > 1.0")); err != nil {
		t.Fatalf("LoadRule() error = %v", err)
	}

	t.Run("swap replaces the rule set", func(t *testing.T) {
		err := e.ReloadRules([]*domain.ScreenRule{
			screenRule("new-1", "is_outflow"),
			screenRule("new-2", `tx_type == "transfer"`),
		})
		if err != nil {
			t.Fatalf("ReloadRules() error = %v", err)
		}
		if e.RulesCount() != 2 {
			t.Errorf("RulesCount() = %d, want 2", e.RulesCount())
		}
		for _, r := range e.GetLoadedRules() {
			if r.ID == "old" {
				t.Error("old rule survived reload")
			}
		}
	})

	t.Run("compile failure keeps the previous set", func(t *testing.T) {
		err := e.ReloadRules([]*domain.ScreenRule{screenRule("bad", "not valid cel (")})
		if err == nil {
			t.Fatal("ReloadRules() expected error")
		}
		if e.RulesCount() != 2 {
			t.Errorf("RulesCount() = %d, want previous set of 2", e.RulesCount())
		}
	})
}
