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

// Structuring flags accounts that keep transaction amounts just under the
// reporting threshold, either by repeating a near-threshold amount or by
// splitting a large day across sub-threshold transactions.
type Structuring struct {
	th domain.Thresholds
}

// NewStructuring builds the structuring detector.
func NewStructuring(th domain.Thresholds) *Structuring {
	return &Structuring{th: th}
}

func (d *Structuring) Name() string { return "structuring" }

// Detect evaluates both structuring rule families per account. Amounts at
// or above the reporting threshold are out of scope for every rule: a
// transaction that trips reporting on its own is not structuring.
func (d *Structuring) Detect(ctx context.Context, snap *domain.Snapshot) *Result {
	res := &Result{}
	byAccount, accounts := groupTransactions(snap.Transactions)
	for _, acct := range accounts {
		select {
		case <-ctx.Done():
			return res
		default:
		}
		d.repeatAmounts(res, acct, byAccount[acct])
		d.dailyAggregation(res, acct, byAccount[acct])
	}
	return res
}

// repeatAmounts looks for the same amount (to the cent) recurring inside
// the repeat band. More repeats in the escalation window upgrade the
// finding to critical.
func (d *Structuring) repeatAmounts(res *Result, acct string, txs []domain.Transaction) {
	subject := domain.Subject{Kind: domain.SubjectAccount, ID: acct}

	byAmount := make(map[string][]time.Time)
	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		abs := tx.Amount.Abs()
		if abs.LessThan(d.th.RepeatAmountFloor) || abs.GreaterThanOrEqual(d.th.ReportingThreshold) {
			continue
		}
		key := abs.StringFixed(2)
		byAmount[key] = append(byAmount[key], tx.PostedAt)
		totals[key] = totals[key].Add(abs)
	}

	keys := make([]string, 0, len(byAmount))
	for k := range byAmount {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		times := byAmount[key] // already sorted: groups preserve PostedAt order
		amount, _ := decimal.NewFromString(key)

		escalated := velocity.MaxCount(times, d.th.RepeatEscalateWindow)
		repeated := velocity.MaxCount(times, d.th.RepeatWindow)

		switch {
		case escalated > d.th.RepeatEscalateCount:
			res.add(domain.NewAlert(subject, domain.CategoryStructuring, domain.SeverityCritical,
				fmt.Sprintf("amount $%s repeated %d times within %d days across %d days (total $%s)%s",
					key, escalated, days(d.th.RepeatEscalateWindow), velocity.DistinctDays(times),
					totals[key].StringFixed(2), roundAmountNote(amount))))
		case repeated >= d.th.RepeatMinCount:
			res.add(domain.NewAlert(subject, domain.CategoryStructuring, domain.SeverityHigh,
				fmt.Sprintf("amount $%s repeated %d times within %d days across %d days (total $%s)%s",
					key, repeated, days(d.th.RepeatWindow), velocity.DistinctDays(times),
					totals[key].StringFixed(2), roundAmountNote(amount))))
		}
	}
}

// dailyAggregation looks for days whose sub-threshold transactions sum past
// the reporting threshold with no single transaction reaching it, and for
// rolling weeks whose structured volume runs far past the threshold.
func (d *Structuring) dailyAggregation(res *Result, acct string, txs []domain.Transaction) {
	subject := domain.Subject{Kind: domain.SubjectAccount, ID: acct}

	daySums := make(map[time.Time]decimal.Decimal)
	dayMaxSingle := make(map[time.Time]decimal.Decimal)
	for _, tx := range txs {
		abs := tx.Amount.Abs()
		day := velocity.Day(tx.PostedAt)
		if abs.GreaterThan(dayMaxSingle[day]) {
			dayMaxSingle[day] = abs
		}
		if abs.LessThan(d.th.DailyAmountFloor) || abs.GreaterThanOrEqual(d.th.ReportingThreshold) {
			continue
		}
		daySums[day] = daySums[day].Add(abs)
	}

	points := make([]velocity.Point, 0, len(daySums))
	for day, sum := range daySums {
		points = append(points, velocity.Point{At: day, Value: sum})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })

	overDays := 0
	maxDaySum := decimal.Zero
	for _, p := range points {
		if p.Value.GreaterThan(d.th.ReportingThreshold) && dayMaxSingle[p.At].LessThan(d.th.ReportingThreshold) {
			overDays++
			if p.Value.GreaterThan(maxDaySum) {
				maxDaySum = p.Value
			}
		}
	}
	if overDays > 0 {
		res.add(domain.NewAlert(subject, domain.CategoryStructuring, domain.SeverityHigh,
			fmt.Sprintf("sub-threshold transactions summed past $%s on %d day(s) with no single transaction reaching the threshold (largest day total $%s)",
				d.th.ReportingThreshold.StringFixed(2), overDays, maxDaySum.StringFixed(2))))
	}

	weeklyCeiling := d.th.ReportingThreshold.Mul(d.th.WeeklySumMultiple)
	if weekly := velocity.MaxSum(points, d.th.RepeatWindow); weekly.GreaterThan(weeklyCeiling) {
		res.add(domain.NewAlert(subject, domain.CategoryStructuring, domain.SeverityCritical,
			fmt.Sprintf("rolling %d-day structured total $%s exceeds $%s",
				days(d.th.RepeatWindow), weekly.StringFixed(2), weeklyCeiling.StringFixed(2))))
	}
}

var hundred = decimal.NewFromInt(100)

// roundAmountNote annotates amounts that are exact hundreds; structured
// deposits tend to be round where organic activity is not.
func roundAmountNote(amount decimal.Decimal) string {
	if amount.Mod(hundred).IsZero() {
		return " [round amount]"
	}
	return ""
}
