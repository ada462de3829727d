package domain

import (
	"sort"
	"time"
)

// Category tags an alert with the fraud signature that produced it.
type Category string

const (
	CategoryStructuring   Category = "structuring"
	CategoryTakeover      Category = "account_takeover"
	CategoryDormantAbuse  Category = "dormant_abuse"
	CategoryMultiIdentity Category = "multi_identity"
)

// Valid reports whether the category is one of the four fraud signatures.
func (c Category) Valid() bool {
	switch c {
	case CategoryStructuring, CategoryTakeover, CategoryDormantAbuse, CategoryMultiIdentity:
		return true
	}
	return false
}

// Severity is the per-alert classification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether the severity carries points. An unknown severity
// would score zero, and zero-score subjects are never reported.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// Points returns the fixed point value for a severity. The composite score
// is the capped sum of these, so the mapping must stay deterministic.
func (s Severity) Points() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// rank orders severities for max comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// SubjectKind names which identifier space a subject lives in. Alerts keyed
// by different kinds for the same underlying entity are not merged; canonical
// identity resolution is an external collaborator's job.
type SubjectKind string

const (
	SubjectAccount SubjectKind = "account"
	SubjectUser    SubjectKind = "user"
	SubjectMember  SubjectKind = "member"
)

// Subject identifies the entity an alert is about.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// Key returns the grouping key used by the scoring engine.
func (s Subject) Key() string {
	return string(s.Kind) + ":" + s.ID
}

// Alert is the unit of evidence emitted by a detector. Alerts are produced,
// never mutated; many alerts may reference the same subject.
type Alert struct {
	Subject  Subject  `json:"subject"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Points   int      `json:"points"`
	Evidence string   `json:"evidence"`
}

// NewAlert builds an alert with its point value derived from severity.
func NewAlert(subject Subject, category Category, severity Severity, evidence string) Alert {
	return Alert{
		Subject:  subject,
		Category: category,
		Severity: severity,
		Points:   severity.Points(),
		Evidence: evidence,
	}
}

// Tier is the per-subject classification derived from the composite score.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// TierForScore maps a capped composite score to its tier. Scores of zero
// have no tier; zero-alert subjects never appear in output at all.
func TierForScore(score int) Tier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 50:
		return TierHigh
	case score >= 25:
		return TierMedium
	case score >= 1:
		return TierLow
	default:
		return ""
	}
}

// ScoredEntity is one scored subject: all contributing alerts, the capped
// composite score, and the assigned tier.
type ScoredEntity struct {
	Subject    Subject    `json:"subject"`
	Categories []Category `json:"categories"`
	Score      int        `json:"score"`
	Tier       Tier       `json:"tier"`
	Alerts     []Alert    `json:"alerts"`
}

// DistinctCategories returns the sorted distinct categories of a set of alerts.
func DistinctCategories(alerts []Alert) []Category {
	seen := make(map[Category]bool, len(alerts))
	var out []Category
	for _, a := range alerts {
		if !seen[a.Category] {
			seen[a.Category] = true
			out = append(out, a.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecordCounts summarizes how many records of each kind a scan consumed.
type RecordCounts struct {
	Transactions int `json:"transactions"`
	Logins       int `json:"logins"`
	Identities   int `json:"identities"`
	CoreAccounts int `json:"coreAccounts"`
	Actions      int `json:"actions"`
	Links        int `json:"links"`
}

// ScanReport is the complete output of one pipeline run. Skipped lists the
// rules that could not run because optional inputs were missing or a join
// was ambiguous; partial results are always produced.
type ScanReport struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	AsOf        time.Time      `json:"asOf"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	DurationMs  int64          `json:"durationMs"`
	Counts      RecordCounts   `json:"counts"`
	AlertCount  int            `json:"alertCount"`
	Entities    []ScoredEntity `json:"entities"`
	Skipped     []string       `json:"skipped,omitempty"`
}
