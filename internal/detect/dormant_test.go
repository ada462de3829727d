package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

func coreStatus(member string, lastModified time.Time) domain.CoreAccountStatus {
	return domain.CoreAccountStatus{
		MemberNumber: member,
		LastModified: lastModified,
		OpenedAt:     lastModified.AddDate(-1, 0, 0),
	}
}

func TestDormantInactivity(t *testing.T) {
	d := NewDormant(domain.DefaultThresholds())
	link := domain.MemberLink{UserID: "u-1", MemberNumber: "m-1", AccountID: "acct-1"}

	t.Run("year-dormant account with recent activity flags high", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf:         asOf,
			CoreAccounts: []domain.CoreAccountStatus{coreStatus("m-1", asOf.AddDate(-2, 0, 0))},
			Links:        []domain.MemberLink{link},
			Transactions: []domain.Transaction{tx("acct-1", "250.00", daysAgo(30))},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 1 {
			t.Fatalf("alerts = %+v, want 1", res.Alerts)
		}
		a := res.Alerts[0]
		if a.Severity != domain.SeverityHigh || a.Subject.Key() != "member:m-1" {
			t.Errorf("alert = %+v", a)
		}
	})

	t.Run("five-year-dormant account with volume flags critical", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf:         asOf,
			CoreAccounts: []domain.CoreAccountStatus{coreStatus("m-1", asOf.AddDate(-6, 0, 0))},
			Links:        []domain.MemberLink{link},
			Transactions: []domain.Transaction{
				tx("acct-1", "-600.00", daysAgo(120)),
				tx("acct-1", "500.00", daysAgo(110)),
				tx("acct-1", "450.00", daysAgo(100)),
			},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityCritical {
			t.Fatalf("alerts = %+v, want one critical", res.Alerts)
		}
	})

	t.Run("both rules can fire for one member", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf:         asOf,
			CoreAccounts: []domain.CoreAccountStatus{coreStatus("m-1", asOf.AddDate(-6, 0, 0))},
			Links:        []domain.MemberLink{link},
			Transactions: []domain.Transaction{
				tx("acct-1", "900.00", daysAgo(10)),
				tx("acct-1", "800.00", daysAgo(5)),
			},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 2 {
			t.Fatalf("alerts = %+v, want high and critical", res.Alerts)
		}
	})

	t.Run("closed accounts are ignored", func(t *testing.T) {
		closed := asOf.AddDate(-1, 0, 0)
		cs := coreStatus("m-1", asOf.AddDate(-6, 0, 0))
		cs.ClosedAt = &closed
		snap := &domain.Snapshot{
			AsOf:         asOf,
			CoreAccounts: []domain.CoreAccountStatus{cs},
			Links:        []domain.MemberLink{link},
			Transactions: []domain.Transaction{tx("acct-1", "900.00", daysAgo(10))},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 0 {
			t.Fatalf("alerts = %+v, want none", res.Alerts)
		}
	})

	t.Run("ambiguously linked account is skipped, not guessed", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf: asOf,
			CoreAccounts: []domain.CoreAccountStatus{
				coreStatus("m-1", asOf.AddDate(-13, 0, 0)),
				coreStatus("m-2", asOf.AddDate(-13, 0, 0)),
			},
			Links: []domain.MemberLink{
				{UserID: "u-1", MemberNumber: "m-1", AccountID: "acct-x"},
				{UserID: "u-2", MemberNumber: "m-2", AccountID: "acct-x"},
			},
			Transactions: []domain.Transaction{tx("acct-x", "2000.00", daysAgo(30))},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 0 {
			t.Fatalf("alerts = %+v, want none for an ambiguous join", res.Alerts)
		}
		if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0], "join is ambiguous") {
			t.Fatalf("skipped = %v, want one ambiguity note", res.Skipped)
		}
	})

	t.Run("ambiguous account excluded from an otherwise clean member", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf: asOf,
			CoreAccounts: []domain.CoreAccountStatus{
				coreStatus("m-1", asOf.AddDate(-13, 0, 0)),
				coreStatus("m-2", asOf.AddDate(-13, 0, 0)),
			},
			Links: []domain.MemberLink{
				{UserID: "u-1", MemberNumber: "m-1", AccountID: "acct-x"},
				{UserID: "u-2", MemberNumber: "m-2", AccountID: "acct-x"},
				{UserID: "u-1", MemberNumber: "m-1", AccountID: "acct-y"},
			},
			Transactions: []domain.Transaction{
				tx("acct-x", "5000.00", daysAgo(40)),
				tx("acct-y", "500.00", daysAgo(30)),
			},
		}
		res := d.Detect(context.Background(), snap)
		// Only acct-y counts toward m-1: recent activity fires high, but the
		// $500 volume stays under the critical-volume floor.
		if len(res.Alerts) != 1 {
			t.Fatalf("alerts = %+v, want one high for m-1", res.Alerts)
		}
		a := res.Alerts[0]
		if a.Severity != domain.SeverityHigh || a.Subject.Key() != "member:m-1" {
			t.Errorf("alert = %+v", a)
		}
	})

	t.Run("missing links skip the join rules", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf:         asOf,
			CoreAccounts: []domain.CoreAccountStatus{coreStatus("m-1", asOf.AddDate(-6, 0, 0))},
			Transactions: []domain.Transaction{tx("acct-1", "900.00", daysAgo(10))},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 0 {
			t.Fatalf("alerts = %+v, want none", res.Alerts)
		}
		if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0], "member links absent") {
			t.Fatalf("skipped = %v", res.Skipped)
		}
	})
}

func TestDormantReactivationSpike(t *testing.T) {
	d := NewDormant(domain.DefaultThresholds())

	t.Run("burst after a long quiet gap flags medium", func(t *testing.T) {
		txs := []domain.Transaction{tx("acct-1", "120.00", daysAgo(250))}
		for i := 0; i < 6; i++ {
			txs = append(txs, tx("acct-1", "40.00", daysAgo(6-i).Add(time.Duration(i)*time.Hour)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Transactions: txs})
		if len(res.Alerts) != 1 {
			t.Fatalf("alerts = %+v, want 1", res.Alerts)
		}
		a := res.Alerts[0]
		if a.Severity != domain.SeverityMedium || a.Subject.Key() != "account:acct-1" {
			t.Errorf("alert = %+v", a)
		}
	})

	t.Run("steady activity never flags", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 12; i++ {
			txs = append(txs, tx("acct-1", "75.00", daysAgo(360-i*30)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Transactions: txs})
		if len(res.Alerts) != 0 {
			t.Fatalf("alerts = %+v, want none", res.Alerts)
		}
	})
}
