package detect

import (
	"context"
	"fmt"
	"sort"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/velocity"
)

// Takeover flags usernames whose login history matches credential-stuffing
// or account-compromise signatures. Subjects are usernames; resolving a
// username to a canonical person is out of scope here.
type Takeover struct {
	th domain.Thresholds
}

// NewTakeover builds the account-takeover detector.
func NewTakeover(th domain.Thresholds) *Takeover {
	return &Takeover{th: th}
}

func (d *Takeover) Name() string { return "account_takeover" }

func (d *Takeover) Detect(ctx context.Context, snap *domain.Snapshot) *Result {
	res := &Result{}
	byUser, users := groupLogins(snap.Logins)

	actionsByUser := make(map[string][]domain.AccountAction)
	if snap.Actions != nil {
		for _, a := range snap.Actions {
			actionsByUser[a.Username] = append(actionsByUser[a.Username], a)
		}
	} else {
		res.skip("account_takeover: post-login behavior rule skipped, account action history absent")
	}

	for _, user := range users {
		select {
		case <-ctx.Done():
			return res
		default:
		}
		attempts := byUser[user]
		subject := domain.Subject{Kind: domain.SubjectUser, ID: user}

		d.burst(res, subject, attempts)
		d.sustained(res, subject, attempts)
		d.ipVelocity(res, subject, attempts)
		if snap.Actions != nil {
			d.postLogin(res, subject, attempts, actionsByUser[user])
		}
	}
	return res
}

// burst fires on a run of consecutive failures from one source address
// packed inside the burst window. A success or a different address resets
// the run.
func (d *Takeover) burst(res *Result, subject domain.Subject, attempts []domain.LoginAttempt) {
	var run []domain.LoginAttempt
	for _, a := range attempts {
		if a.Succeeded() || (len(run) > 0 && a.SourceIP != run[0].SourceIP) {
			run = run[:0]
		}
		if a.Succeeded() {
			continue
		}
		run = append(run, a)
		if len(run) < d.th.BurstFailures {
			continue
		}
		first := run[len(run)-d.th.BurstFailures]
		if a.AttemptedAt.Sub(first.AttemptedAt) <= d.th.BurstWindow {
			res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityCritical,
				fmt.Sprintf("%d consecutive failed logins within %s from %s",
					d.th.BurstFailures, d.th.BurstWindow, a.SourceIP)))
			return
		}
	}
}

// sustained fires when any rolling day-long window holds enough attempts at
// a high enough failure rate. A history with several attempts that all fail
// is reported even below the attempt minimum.
func (d *Takeover) sustained(res *Result, subject domain.Subject, attempts []domain.LoginAttempt) {
	bestTotal, bestFailed := 0, 0
	fails := 0
	i := 0
	for j := range attempts {
		if !attempts[j].Succeeded() {
			fails++
		}
		for attempts[j].AttemptedAt.Sub(attempts[i].AttemptedAt) > d.th.SustainedWindow {
			if !attempts[i].Succeeded() {
				fails--
			}
			i++
		}
		total := j - i + 1
		if total >= d.th.SustainedMinAttempts &&
			float64(fails)/float64(total) >= d.th.SustainedFailRate &&
			fails > bestFailed {
			bestTotal, bestFailed = total, fails
		}
	}

	if bestTotal > 0 {
		note := ""
		if bestFailed == bestTotal {
			note = ", every attempt failed"
		}
		res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityHigh,
			fmt.Sprintf("%d of %d login attempts failed within %s%s",
				bestFailed, bestTotal, d.th.SustainedWindow, note)))
		return
	}

	// Short histories that never succeed are still probing.
	failed := 0
	for _, a := range attempts {
		if !a.Succeeded() {
			failed++
		}
	}
	if failed >= 3 && failed == len(attempts) {
		res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityHigh,
			fmt.Sprintf("all %d login attempts failed", failed)))
	}
}

// ipVelocity fires one alert at the highest matched level: many distinct
// source addresses over a month, or several over a week.
func (d *Takeover) ipVelocity(res *Result, subject domain.Subject, attempts []domain.LoginAttempt) {
	events := make([]velocity.Event, len(attempts))
	for i, a := range attempts {
		events[i] = velocity.Event{At: a.AttemptedAt, Key: a.SourceIP}
	}

	if n := velocity.MaxDistinct(events, d.th.IPVelocityLongWindow); n >= d.th.IPVelocityLongCount {
		res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityHigh,
			fmt.Sprintf("%d distinct source addresses within %d days", n, days(d.th.IPVelocityLongWindow))))
		return
	}
	if n := velocity.MaxDistinct(events, d.th.IPVelocityShortWindow); n >= d.th.IPVelocityShortCount {
		res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityMedium,
			fmt.Sprintf("%d distinct source addresses within %d days", n, days(d.th.IPVelocityShortWindow))))
	}
}

// postLogin fires when a success from a never-before-seen address is
// followed by an account-mutating action inside the post-login window.
func (d *Takeover) postLogin(res *Result, subject domain.Subject, attempts []domain.LoginAttempt, actions []domain.AccountAction) {
	if len(actions) == 0 {
		return
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].OccurredAt.Before(actions[j].OccurredAt) })

	seen := make(map[string]bool)
	for _, a := range attempts {
		if !a.Succeeded() {
			seen[a.SourceIP] = true
			continue
		}
		newIP := !seen[a.SourceIP]
		seen[a.SourceIP] = true
		if !newIP {
			continue
		}
		idx := sort.Search(len(actions), func(i int) bool { return !actions[i].OccurredAt.Before(a.AttemptedAt) })
		if idx < len(actions) && actions[idx].OccurredAt.Sub(a.AttemptedAt) <= d.th.PostLoginWindow {
			res.add(domain.NewAlert(subject, domain.CategoryTakeover, domain.SeverityHigh,
				fmt.Sprintf("%s within %s of first successful login from new address %s",
					actions[idx].Kind, d.th.PostLoginWindow, a.SourceIP)))
			return
		}
	}
}
