package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

func login(user, result, ip string, at time.Time) domain.LoginAttempt {
	return domain.LoginAttempt{Username: user, Result: result, SourceIP: ip, AttemptedAt: at}
}

func severities(alerts []domain.Alert) []domain.Severity {
	out := make([]domain.Severity, len(alerts))
	for i, a := range alerts {
		out[i] = a.Severity
	}
	return out
}

func hasSeverity(alerts []domain.Alert, sev domain.Severity) bool {
	for _, a := range alerts {
		if a.Severity == sev {
			return true
		}
	}
	return false
}

func TestTakeoverBurst(t *testing.T) {
	d := NewTakeover(domain.DefaultThresholds())
	start := asOf.Add(-48 * time.Hour)

	t.Run("five rapid failures from one address flags critical", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		for i := 0; i < 5; i++ {
			attempts = append(attempts, login("alice", domain.LoginBadCredentials, "10.0.0.9", start.Add(time.Duration(i)*time.Minute)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if !hasSeverity(res.Alerts, domain.SeverityCritical) {
			t.Fatalf("want critical burst alert, got %v", severities(res.Alerts))
		}
	})

	t.Run("a success resets the run", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		for i := 0; i < 4; i++ {
			attempts = append(attempts, login("alice", domain.LoginBadCredentials, "10.0.0.9", start.Add(time.Duration(i)*time.Minute)))
		}
		attempts = append(attempts, login("alice", domain.LoginSuccess, "10.0.0.9", start.Add(4*time.Minute)))
		attempts = append(attempts, login("alice", domain.LoginBadCredentials, "10.0.0.9", start.Add(5*time.Minute)))
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if hasSeverity(res.Alerts, domain.SeverityCritical) {
			t.Fatalf("burst should not fire across a success, got %v", severities(res.Alerts))
		}
	})

	t.Run("address changes reset the run", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		for i := 0; i < 6; i++ {
			ip := "10.0.0.1"
			if i%2 == 1 {
				ip = "10.0.0.2"
			}
			attempts = append(attempts, login("alice", domain.LoginBadCredentials, ip, start.Add(time.Duration(i)*time.Minute)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if hasSeverity(res.Alerts, domain.SeverityCritical) {
			t.Fatalf("burst should not fire across addresses, got %v", severities(res.Alerts))
		}
	})
}

func TestTakeoverSustained(t *testing.T) {
	d := NewTakeover(domain.DefaultThresholds())
	start := asOf.Add(-36 * time.Hour)

	t.Run("half-failed day flags high", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		for i := 0; i < 3; i++ {
			attempts = append(attempts, login("bob", domain.LoginBadCredentials, "10.0.0.1", start.Add(time.Duration(i)*2*time.Hour)))
			attempts = append(attempts, login("bob", domain.LoginSuccess, "10.0.0.1", start.Add(time.Duration(i)*2*time.Hour+time.Hour)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if !hasSeverity(res.Alerts, domain.SeverityHigh) {
			t.Fatalf("want high sustained alert, got %v", severities(res.Alerts))
		}
	})

	t.Run("mostly successful logins stay quiet", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		attempts = append(attempts, login("bob", domain.LoginBadCredentials, "10.0.0.1", start))
		for i := 1; i < 9; i++ {
			attempts = append(attempts, login("bob", domain.LoginSuccess, "10.0.0.1", start.Add(time.Duration(i)*time.Hour)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if len(res.Alerts) != 0 {
			t.Fatalf("alerts = %+v, want none", res.Alerts)
		}
	})

	t.Run("short history that never succeeds flags high", func(t *testing.T) {
		attempts := []domain.LoginAttempt{
			login("carol", domain.LoginBadCredentials, "10.0.0.1", asOf.AddDate(0, 0, -20)),
			login("carol", domain.LoginBadCredentials, "10.0.0.1", asOf.AddDate(0, 0, -12)),
			login("carol", domain.LoginLockedOut, "10.0.0.1", asOf.AddDate(0, 0, -2)),
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityHigh {
			t.Fatalf("alerts = %+v, want one high", res.Alerts)
		}
		if !strings.Contains(res.Alerts[0].Evidence, "all") {
			t.Errorf("evidence = %q, want all-failed note", res.Alerts[0].Evidence)
		}
	})
}

func TestTakeoverIPVelocity(t *testing.T) {
	d := NewTakeover(domain.DefaultThresholds())

	t.Run("three addresses in a week flags medium", func(t *testing.T) {
		attempts := []domain.LoginAttempt{
			login("dan", domain.LoginSuccess, "10.0.0.1", asOf.AddDate(0, 0, -6)),
			login("dan", domain.LoginSuccess, "10.0.0.2", asOf.AddDate(0, 0, -4)),
			login("dan", domain.LoginSuccess, "10.0.0.3", asOf.AddDate(0, 0, -2)),
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityMedium {
			t.Fatalf("alerts = %+v, want one medium", res.Alerts)
		}
	})

	t.Run("ten addresses in a month flags high once", func(t *testing.T) {
		var attempts []domain.LoginAttempt
		for i := 0; i < 10; i++ {
			attempts = append(attempts, login("dan", domain.LoginSuccess, "10.0.1."+string(rune('0'+i)), asOf.AddDate(0, 0, -29+i*3)))
		}
		res := d.Detect(context.Background(), &domain.Snapshot{AsOf: asOf, Logins: attempts})
		if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityHigh {
			t.Fatalf("alerts = %+v, want one high", res.Alerts)
		}
	})
}

func TestTakeoverPostLogin(t *testing.T) {
	d := NewTakeover(domain.DefaultThresholds())
	start := asOf.Add(-2 * time.Hour)

	t.Run("action after success from new address flags high", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf: asOf,
			Logins: []domain.LoginAttempt{
				login("erin", domain.LoginSuccess, "10.0.0.1", asOf.AddDate(0, 0, -30)),
				login("erin", domain.LoginSuccess, "10.0.0.1", asOf.AddDate(0, 0, -15)),
				login("erin", domain.LoginSuccess, "198.51.100.7", start),
			},
			Actions: []domain.AccountAction{
				{Username: "erin", Kind: "transfer_recipient_added", OccurredAt: start.Add(25 * time.Minute)},
			},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityHigh {
			t.Fatalf("alerts = %+v, want one high", res.Alerts)
		}
		if !strings.Contains(res.Alerts[0].Evidence, "transfer_recipient_added") {
			t.Errorf("evidence = %q, want action kind", res.Alerts[0].Evidence)
		}
	})

	t.Run("missing action history reports a skip", func(t *testing.T) {
		snap := &domain.Snapshot{
			AsOf: asOf,
			Logins: []domain.LoginAttempt{
				login("erin", domain.LoginSuccess, "198.51.100.7", start),
			},
		}
		res := d.Detect(context.Background(), snap)
		if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0], "action history absent") {
			t.Fatalf("skipped = %v, want action-history note", res.Skipped)
		}
	})
}
