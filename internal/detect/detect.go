// Package detect implements the rule-based fraud detectors. Each detector
// reads its slice of a read-only snapshot and emits alerts; detectors have
// no data dependency on each other and run concurrently in the pipeline.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

// Detector evaluates one fraud signature over a snapshot.
type Detector interface {
	// Name identifies the detector in logs and skip diagnostics.
	Name() string

	// Detect evaluates the detector's rules. It never fails the run:
	// rules whose inputs are missing are reported in Result.Skipped.
	Detect(ctx context.Context, snap *domain.Snapshot) *Result
}

// Result holds a detector's alerts plus diagnostics for rules that could
// not run because an optional input was absent or a join was ambiguous.
type Result struct {
	Alerts  []domain.Alert
	Skipped []string
}

func (r *Result) add(a domain.Alert) {
	r.Alerts = append(r.Alerts, a)
}

func (r *Result) skip(note string) {
	r.Skipped = append(r.Skipped, note)
}

// groupTransactions buckets transactions by account, each bucket ordered
// by posting time. Account keys are returned sorted for determinism.
func groupTransactions(txs []domain.Transaction) (map[string][]domain.Transaction, []string) {
	byAccount := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}
	keys := make([]string, 0, len(byAccount))
	for k, group := range byAccount {
		sort.Slice(group, func(i, j int) bool { return group[i].PostedAt.Before(group[j].PostedAt) })
		byAccount[k] = group
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return byAccount, keys
}

// groupLogins buckets login attempts by username, each bucket ordered by
// attempt time. Username keys are returned sorted for determinism.
func groupLogins(attempts []domain.LoginAttempt) (map[string][]domain.LoginAttempt, []string) {
	byUser := make(map[string][]domain.LoginAttempt)
	for _, a := range attempts {
		byUser[a.Username] = append(byUser[a.Username], a)
	}
	keys := make([]string, 0, len(byUser))
	for k, group := range byUser {
		sort.Slice(group, func(i, j int) bool { return group[i].AttemptedAt.Before(group[j].AttemptedAt) })
		byUser[k] = group
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return byUser, keys
}

const day = 24 * time.Hour

func days(d time.Duration) int {
	return int(d / day)
}
