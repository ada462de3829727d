package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/velocity"
)

// Dormant flags long-inactive core accounts that suddenly show digital
// activity. It joins core status to digital transactions through member
// links; members without a link are reported as skipped, not failed.
type Dormant struct {
	th domain.Thresholds
}

// NewDormant builds the dormant-abuse detector.
func NewDormant(th domain.Thresholds) *Dormant {
	return &Dormant{th: th}
}

func (d *Dormant) Name() string { return "dormant_abuse" }

func (d *Dormant) Detect(ctx context.Context, snap *domain.Snapshot) *Result {
	res := &Result{}

	byAccount, accounts := groupTransactions(snap.Transactions)

	// Reactivation is purely account-local: no join needed.
	for _, acct := range accounts {
		select {
		case <-ctx.Done():
			return res
		default:
		}
		d.reactivationSpike(res, acct, byAccount[acct])
	}

	if len(snap.CoreAccounts) == 0 {
		return res
	}
	if snap.Links == nil {
		res.skip("dormant_abuse: inactivity rules skipped, member links absent")
		return res
	}

	linkedMembers := make(map[string]map[string]bool)
	for _, l := range snap.Links {
		if l.MemberNumber == "" || l.AccountID == "" {
			continue
		}
		if linkedMembers[l.AccountID] == nil {
			linkedMembers[l.AccountID] = make(map[string]bool)
		}
		linkedMembers[l.AccountID][l.MemberNumber] = true
	}

	// An account claimed by more than one member is excluded from the join
	// entirely; guessing an owner would double-count the same evidence.
	accountsByMember := make(map[string][]string)
	memberHasLink := make(map[string]bool)
	var ambiguous []string
	for acct, members := range linkedMembers {
		for m := range members {
			memberHasLink[m] = true
		}
		if len(members) > 1 {
			ambiguous = append(ambiguous, acct)
			continue
		}
		for m := range members {
			accountsByMember[m] = append(accountsByMember[m], acct)
		}
	}
	sort.Strings(ambiguous)
	for _, acct := range ambiguous {
		res.skip(fmt.Sprintf("dormant_abuse: account %s linked to %d members, join is ambiguous, inactivity rules skipped for it",
			acct, len(linkedMembers[acct])))
	}

	statuses := make([]domain.CoreAccountStatus, len(snap.CoreAccounts))
	copy(statuses, snap.CoreAccounts)
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].MemberNumber < statuses[j].MemberNumber })

	unlinked := 0
	for _, cs := range statuses {
		if cs.Closed() {
			continue
		}
		linked := accountsByMember[cs.MemberNumber]
		if len(linked) == 0 {
			// Members whose only links are ambiguous are already covered by
			// the per-account note above.
			if !memberHasLink[cs.MemberNumber] {
				unlinked++
			}
			continue
		}
		d.inactivity(res, snap.AsOf, cs, linked, byAccount)
	}
	if unlinked > 0 {
		res.skip(fmt.Sprintf("dormant_abuse: %d core accounts have no member link, inactivity rules skipped for them", unlinked))
	}
	return res
}

// inactivity applies both dormancy rules to one open core account. Both can
// fire; the scoring engine sums them.
func (d *Dormant) inactivity(res *Result, asOf time.Time, cs domain.CoreAccountStatus, accounts []string, byAccount map[string][]domain.Transaction) {
	dormancy := asOf.Sub(cs.LastModified)
	if dormancy <= d.th.DormancyHigh {
		return
	}

	var times []time.Time
	volume := decimal.Zero
	txCount := 0
	sort.Strings(accounts)
	for _, acct := range accounts {
		for _, tx := range byAccount[acct] {
			times = append(times, tx.PostedAt)
			volume = volume.Add(tx.Amount.Abs())
			txCount++
		}
	}
	velocity.SortTimes(times)

	subject := domain.Subject{Kind: domain.SubjectMember, ID: cs.MemberNumber}
	years := float64(dormancy) / float64(365*day)

	if recent := velocity.CountSince(times, asOf.Add(-d.th.DormantRecentWindow)); recent >= 1 {
		res.add(domain.NewAlert(subject, domain.CategoryDormantAbuse, domain.SeverityHigh,
			fmt.Sprintf("core account inactive %.1f years, %d digital transactions in trailing %d days",
				years, recent, days(d.th.DormantRecentWindow))))
	}
	if dormancy > d.th.DormancyCritical && volume.GreaterThan(d.th.DormantCriticalVolume) {
		res.add(domain.NewAlert(subject, domain.CategoryDormantAbuse, domain.SeverityCritical,
			fmt.Sprintf("core account inactive %.1f years, %d digital transactions totaling $%s",
				years, txCount, volume.StringFixed(2))))
	}
}

// reactivationSpike fires when an account goes quiet for the quiet period
// and then bursts past the reactivation count in the window that follows.
func (d *Dormant) reactivationSpike(res *Result, acct string, txs []domain.Transaction) {
	for i := 1; i < len(txs); i++ {
		gap := txs[i].PostedAt.Sub(txs[i-1].PostedAt)
		if gap < d.th.ReactivationQuiet {
			continue
		}
		end := txs[i].PostedAt.Add(d.th.ReactivationWindow)
		count := 0
		for j := i; j < len(txs) && !txs[j].PostedAt.After(end); j++ {
			count++
		}
		if count > d.th.ReactivationCount {
			res.add(domain.NewAlert(domain.Subject{Kind: domain.SubjectAccount, ID: acct},
				domain.CategoryDormantAbuse, domain.SeverityMedium,
				fmt.Sprintf("quiet for %d days, then %d transactions within %d days",
					days(gap), count, days(d.th.ReactivationWindow))))
			return
		}
	}
}
