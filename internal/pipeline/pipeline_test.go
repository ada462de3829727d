package pipeline

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nguyendon/fraudasaurus.ai/internal/bus"
	"github.com/nguyendon/fraudasaurus.ai/internal/cache"
	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/repository"
	"github.com/nguyendon/fraudasaurus.ai/internal/rules"
)

var asOf = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return asOf.AddDate(0, 0, -n) }

func newTestRunner(t *testing.T) (*Runner, domain.Repository, domain.Cache, domain.EventBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/scan.db",
	})
	if err != nil {
		t.Fatalf("repository.New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	screen, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("rules.NewEngine() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	runner := NewRunner(repo, c, b, screen, domain.DefaultThresholds(), logger)
	return runner, repo, c, b
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func tx(id, acct, amount string, at time.Time) domain.Transaction {
	return domain.Transaction{ID: id, AccountID: acct, Amount: decimal.RequireFromString(amount), PostedAt: at}
}

func login(user, result, ip string, at time.Time) domain.LoginAttempt {
	return domain.LoginAttempt{Username: user, Result: result, SourceIP: ip, AttemptedAt: at}
}

// seedScenarios loads one tenant with data exercising all four detectors.
func seedScenarios(t *testing.T, repo domain.Repository, tenantID string) {
	t.Helper()
	ctx := context.Background()

	// Repeated near-threshold amounts: 11 x $8,100 over 30 days.
	var txs []domain.Transaction
	for i := 0; i < 11; i++ {
		txs = append(txs, tx(
			"struct-"+string(rune('a'+i)), "struct-1", "8100.00",
			day(31-3*i).Add(10*time.Hour)))
	}

	// Dormant member activity: 10 x $400 monthly on the linked account.
	for i := 0; i < 10; i++ {
		txs = append(txs, tx(
			"dorm-"+string(rune('a'+i)), "acct-dorm", "400.00",
			day(10+30*i).Add(9*time.Hour)))
	}
	if err := repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		t.Fatalf("SaveTransactions() error = %v", err)
	}

	// Credential abuse against one username: a sustained half-failed day
	// plus enough distinct addresses for the short-window velocity rule,
	// but no tight same-address burst.
	logins := []domain.LoginAttempt{
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(50).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(49).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(48).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(47).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(46).Add(12*time.Hour)),
		login("victim", domain.LoginSuccess, "10.0.0.1", day(30).Add(12*time.Hour)),
		login("victim", domain.LoginSuccess, "10.0.0.2", day(30).Add(13*time.Hour)),
		login("victim", domain.LoginSuccess, "10.0.0.2", day(10).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.3", day(8).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.4", day(6).Add(12*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.1", day(2).Add(12*time.Hour)),
		login("victim", domain.LoginSuccess, "10.0.0.2", day(2).Add(13*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.2", day(2).Add(14*time.Hour)),
		login("victim", domain.LoginSuccess, "10.0.0.1", day(2).Add(15*time.Hour)),
		login("victim", domain.LoginBadCredentials, "10.0.0.5", day(2).Add(16*time.Hour)),
	}
	if err := repo.SaveLoginAttempts(ctx, tenantID, logins); err != nil {
		t.Fatalf("SaveLoginAttempts() error = %v", err)
	}

	// A long-dormant core member with digital activity on a linked account.
	if err := repo.SaveCoreStatuses(ctx, tenantID, []domain.CoreAccountStatus{
		{MemberNumber: "m-dorm", LastModified: asOf.AddDate(-13, 0, 0), OpenedAt: asOf.AddDate(-20, 0, 0)},
	}); err != nil {
		t.Fatalf("SaveCoreStatuses() error = %v", err)
	}
	if err := repo.SaveMemberLinks(ctx, tenantID, []domain.MemberLink{
		{UserID: "u-dorm", MemberNumber: "m-dorm", AccountID: "acct-dorm"},
	}); err != nil {
		t.Fatalf("SaveMemberLinks() error = %v", err)
	}

	// Six identities sharing one mailbox; creations spread out so only the
	// cluster-size rule fires.
	var ids []domain.UserIdentity
	for i := 0; i < 6; i++ {
		email := "hub@x.com"
		if i > 0 {
			email = "hub+" + string(rune('0'+i)) + "@x.com"
		}
		ids = append(ids, domain.UserIdentity{
			ID:          "u-0" + string(rune('1'+i)),
			Username:    "cluster" + string(rune('1'+i)),
			DisplayName: "Hub Person",
			Email:       email,
			CreatedAt:   asOf.AddDate(-2*i-1, 0, 0),
			Active:      true,
		})
	}
	if err := repo.SaveIdentities(ctx, tenantID, ids); err != nil {
		t.Fatalf("SaveIdentities() error = %v", err)
	}
}

func entityByKey(entities []domain.ScoredEntity, key string) *domain.ScoredEntity {
	for i := range entities {
		if entities[i].Subject.Key() == key {
			return &entities[i]
		}
	}
	return nil
}

func TestScanScenarios(t *testing.T) {
	runner, repo, _, _ := newTestRunner(t)
	seedScenarios(t, repo, "tenant-1")

	report, err := runner.Scan(context.Background(), "tenant-1", asOf)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	t.Run("repeated structuring escalates to critical", func(t *testing.T) {
		e := entityByKey(report.Entities, "account:struct-1")
		if e == nil {
			t.Fatal("no entity for account:struct-1")
		}
		if len(e.Alerts) != 1 || e.Alerts[0].Severity != domain.SeverityCritical {
			t.Fatalf("alerts = %+v, want one critical", e.Alerts)
		}
		if e.Score != 40 || e.Tier != domain.TierMedium {
			t.Errorf("score = %d tier = %s, want 40/medium", e.Score, e.Tier)
		}
	})

	t.Run("credential abuse composes sustained and velocity", func(t *testing.T) {
		e := entityByKey(report.Entities, "user:victim")
		if e == nil {
			t.Fatal("no entity for user:victim")
		}
		if e.Score != 35 {
			t.Fatalf("score = %d, want 35 (high sustained + medium velocity): %+v", e.Score, e.Alerts)
		}
		if e.Tier != domain.TierMedium {
			t.Errorf("tier = %s, want medium", e.Tier)
		}
	})

	t.Run("dormant member fires both inactivity rules", func(t *testing.T) {
		e := entityByKey(report.Entities, "member:m-dorm")
		if e == nil {
			t.Fatal("no entity for member:m-dorm")
		}
		if e.Score != 65 || e.Tier != domain.TierHigh {
			t.Fatalf("score = %d tier = %s, want 65/high: %+v", e.Score, e.Tier, e.Alerts)
		}
	})

	t.Run("identity cluster flagged on its representative", func(t *testing.T) {
		e := entityByKey(report.Entities, "user:u-01")
		if e == nil {
			t.Fatal("no entity for user:u-01")
		}
		if len(e.Alerts) != 1 || e.Alerts[0].Severity != domain.SeverityCritical {
			t.Fatalf("alerts = %+v, want one critical cluster alert", e.Alerts)
		}
	})

	t.Run("ranked by score descending", func(t *testing.T) {
		for i := 1; i < len(report.Entities); i++ {
			if report.Entities[i].Score > report.Entities[i-1].Score {
				t.Fatalf("entities not sorted at %d: %d > %d", i, report.Entities[i].Score, report.Entities[i-1].Score)
			}
		}
	})

	t.Run("missing action history surfaces as a skip note", func(t *testing.T) {
		found := false
		for _, s := range report.Skipped {
			if strings.Contains(s, "action history absent") {
				found = true
			}
		}
		if !found {
			t.Errorf("skipped = %v, want post-login skip note", report.Skipped)
		}
	})

	t.Run("report is persisted", func(t *testing.T) {
		stored, err := repo.GetScan(context.Background(), "tenant-1", report.ID)
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if stored.AlertCount != report.AlertCount || len(stored.Entities) != len(report.Entities) {
			t.Errorf("stored report differs: %+v", stored)
		}
	})
}

func TestScanDeterminism(t *testing.T) {
	runner, repo, _, _ := newTestRunner(t)
	seedScenarios(t, repo, "tenant-1")
	ctx := context.Background()

	first, err := runner.Scan(ctx, "tenant-1", asOf)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	second, err := runner.Scan(ctx, "tenant-1", asOf)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if !reflect.DeepEqual(first.Entities, second.Entities) {
		t.Error("repeated scans over the same snapshot produced different entities")
	}
	if first.ID == second.ID {
		t.Error("scan IDs must be unique per run")
	}
}

func TestScanCachesAndPublishes(t *testing.T) {
	runner, repo, c, b := newTestRunner(t)
	seedScenarios(t, repo, "tenant-1")
	ctx := context.Background()

	var completed atomic.Int32
	if _, err := b.Subscribe(ctx, "tenant-1", domain.TopicScanCompleted, func(ctx context.Context, msg *domain.Message) error {
		completed.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	report, err := runner.Scan(ctx, "tenant-1", asOf)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	cached, err := c.GetScan(ctx, "tenant-1", report.ID)
	if err != nil {
		t.Fatalf("GetScan() cache error = %v", err)
	}
	if cached == nil || cached.ID != report.ID {
		t.Errorf("cached = %+v, want report %s", cached, report.ID)
	}

	deadline := time.After(time.Second)
	for completed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for scan.completed event")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScanScreeningRules(t *testing.T) {
	runner, repo, _, _ := newTestRunner(t)
	ctx := context.Background()

	if err := repo.SaveTransactions(ctx, "tenant-2", []domain.Transaction{
		tx("s1", "acct-screen", "-9000.00", day(5)),
		tx("s2", "acct-screen", "-50.00", day(4)),
	}); err != nil {
		t.Fatalf("SaveTransactions() error = %v", err)
	}
	if err := repo.SaveScreenRule(ctx, "tenant-2", &domain.ScreenRule{
		ID:         "near-ctr",
		Name:       "near reporting threshold",
		Expression: "abs_amount >= 8000.0 && is_outflow",
		Category:   domain.CategoryStructuring,
		Severity:   domain.SeverityMedium,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("SaveScreenRule() error = %v", err)
	}

	report, err := runner.Scan(ctx, "tenant-2", asOf)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	e := entityByKey(report.Entities, "account:acct-screen")
	if e == nil {
		t.Fatal("no entity for screened account")
	}
	if len(e.Alerts) != 1 || e.Alerts[0].Severity != domain.SeverityMedium {
		t.Fatalf("alerts = %+v, want one medium screening alert", e.Alerts)
	}
	if !strings.Contains(e.Alerts[0].Evidence, "near reporting threshold") {
		t.Errorf("evidence = %q", e.Alerts[0].Evidence)
	}
}
