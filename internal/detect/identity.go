package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/velocity"
)

// MultiIdentity clusters digital identities that share a normalized email
// or a login device window, then flags clusters shaped like one person
// operating many identities. Clustering is deterministic: identities are
// processed in ID order and a cluster is represented by its smallest ID.
type MultiIdentity struct {
	th domain.Thresholds
}

// NewMultiIdentity builds the multi-identity detector.
func NewMultiIdentity(th domain.Thresholds) *MultiIdentity {
	return &MultiIdentity{th: th}
}

func (d *MultiIdentity) Name() string { return "multi_identity" }

func (d *MultiIdentity) Detect(ctx context.Context, snap *domain.Snapshot) *Result {
	res := &Result{}
	if len(snap.Identities) == 0 {
		return res
	}
	if len(snap.Logins) == 0 {
		res.skip("multi_identity: shared-device linking skipped, no login history")
	}

	clusters := Cluster(snap.Identities, snap.Logins, d.th.SharedIPWindow)

	linksReady := snap.Links != nil && len(snap.Transactions) > 0
	if !linksReady {
		res.skip("multi_identity: self-dealing rule skipped, member links or transactions absent")
	}
	var byAccount map[string][]domain.Transaction
	accountOwner := make(map[string]string) // accountID -> identity ID
	if linksReady {
		byAccount, _ = groupTransactions(snap.Transactions)
		for _, l := range snap.Links {
			if l.UserID != "" && l.AccountID != "" {
				accountOwner[l.AccountID] = l.UserID
			}
		}
	}

	for _, cluster := range clusters {
		select {
		case <-ctx.Done():
			return res
		default:
		}
		if len(cluster) < 2 {
			continue
		}
		subject := domain.Subject{Kind: domain.SubjectUser, ID: cluster[0].ID}

		d.sharedEmailNames(res, subject, cluster)
		d.clusterSize(res, subject, cluster)
		d.creationVelocity(res, subject, cluster)
		if linksReady {
			d.selfDealing(res, subject, cluster, accountOwner, byAccount)
		}
	}
	return res
}

// Cluster groups identities by transitive identity-sharing signals: a
// shared normalized email, or logins from the same source address within
// the given window. The result is sorted by representative ID and each
// cluster is sorted by identity ID, so repeated runs over the same
// snapshot produce identical clusters.
func Cluster(identities []domain.UserIdentity, logins []domain.LoginAttempt, ipWindow time.Duration) [][]domain.UserIdentity {
	sorted := make([]domain.UserIdentity, len(identities))
	copy(sorted, identities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	uf := newUnionFind(len(sorted))

	// Identity records reusing a username are the same actor; union them so
	// a login edge lands on the whole set, whichever record it keys to.
	byUsername := make(map[string]int, len(sorted))
	for i, id := range sorted {
		if id.Username == "" {
			continue
		}
		if first, ok := byUsername[id.Username]; ok {
			uf.union(first, i)
		} else {
			byUsername[id.Username] = i
		}
	}

	byEmail := make(map[string]int)
	for i, id := range sorted {
		key := NormalizeEmail(id.Email)
		if key == "" {
			continue
		}
		if first, ok := byEmail[key]; ok {
			uf.union(first, i)
		} else {
			byEmail[key] = i
		}
	}

	// Consecutive same-address logins within the window chain transitively,
	// which covers every pair inside the window.
	byIP := make(map[string][]domain.LoginAttempt)
	for _, l := range logins {
		if l.SourceIP == "" {
			continue
		}
		if _, ok := byUsername[l.Username]; ok {
			byIP[l.SourceIP] = append(byIP[l.SourceIP], l)
		}
	}
	for _, attempts := range byIP {
		sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptedAt.Before(attempts[j].AttemptedAt) })
		for i := 1; i < len(attempts); i++ {
			if attempts[i].AttemptedAt.Sub(attempts[i-1].AttemptedAt) <= ipWindow {
				uf.union(byUsername[attempts[i-1].Username], byUsername[attempts[i].Username])
			}
		}
	}

	groups := make(map[int][]domain.UserIdentity)
	for i, id := range sorted {
		root := uf.find(i)
		groups[root] = append(groups[root], id)
	}
	out := make([][]domain.UserIdentity, 0, len(groups))
	for _, g := range groups {
		out = append(out, g) // members stay in ID order
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].ID < out[j][0].ID })
	return out
}

// NormalizeEmail canonicalizes an address for matching: the local part is
// lowercased and stripped of any plus-suffix. Empty or malformed addresses
// normalize to "" and never match anything.
func NormalizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	local := strings.ToLower(email[:at])
	domainPart := strings.ToLower(email[at+1:])
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	if local == "" || domainPart == "" {
		return ""
	}
	return local + "@" + domainPart
}

// sharedEmailNames fires when one normalized email inside the cluster is
// used under too many distinct display names.
func (d *MultiIdentity) sharedEmailNames(res *Result, subject domain.Subject, cluster []domain.UserIdentity) {
	namesByEmail := make(map[string]map[string]bool)
	for _, id := range cluster {
		key := NormalizeEmail(id.Email)
		name := strings.ToUpper(strings.TrimSpace(id.DisplayName))
		if key == "" || name == "" {
			continue
		}
		if namesByEmail[key] == nil {
			namesByEmail[key] = make(map[string]bool)
		}
		namesByEmail[key][name] = true
	}

	keys := make([]string, 0, len(namesByEmail))
	for k := range namesByEmail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if n := len(namesByEmail[key]); n > d.th.ClusterNameThreshold {
			res.add(domain.NewAlert(subject, domain.CategoryMultiIdentity, domain.SeverityHigh,
				fmt.Sprintf("%d distinct display names share email %s", n, key)))
		}
	}
}

func (d *MultiIdentity) clusterSize(res *Result, subject domain.Subject, cluster []domain.UserIdentity) {
	if len(cluster) <= d.th.ClusterSizeCritical {
		return
	}
	ids := make([]string, len(cluster))
	for i, id := range cluster {
		ids[i] = id.ID
	}
	res.add(domain.NewAlert(subject, domain.CategoryMultiIdentity, domain.SeverityCritical,
		fmt.Sprintf("cluster of %d linked identities: %s", len(cluster), strings.Join(ids, ", "))))
}

func (d *MultiIdentity) creationVelocity(res *Result, subject domain.Subject, cluster []domain.UserIdentity) {
	var times []time.Time
	for _, id := range cluster {
		if !id.CreatedAt.IsZero() {
			times = append(times, id.CreatedAt)
		}
	}
	velocity.SortTimes(times)
	if n := velocity.MaxCount(times, d.th.ClusterCreationWindow); n >= d.th.ClusterCreationCount {
		res.add(domain.NewAlert(subject, domain.CategoryMultiIdentity, domain.SeverityHigh,
			fmt.Sprintf("%d linked identities created within %d days", n, days(d.th.ClusterCreationWindow))))
	}
}

// selfDealing fires when an outflow from one cluster-owned account is
// mirrored by an equal inflow to another cluster-owned account inside the
// match window.
func (d *MultiIdentity) selfDealing(res *Result, subject domain.Subject, cluster []domain.UserIdentity, accountOwner map[string]string, byAccount map[string][]domain.Transaction) {
	members := make(map[string]bool, len(cluster))
	for _, id := range cluster {
		members[id.ID] = true
	}
	var accounts []string
	for acct, owner := range accountOwner {
		if members[owner] {
			accounts = append(accounts, acct)
		}
	}
	if len(accounts) < 2 {
		return
	}
	sort.Strings(accounts)

	type inflow struct {
		account string
		at      time.Time
	}
	inflows := make(map[string][]inflow) // abs amount -> inflows
	var outflows []domain.Transaction
	for _, acct := range accounts {
		for _, tx := range byAccount[acct] {
			key := tx.Amount.Abs().StringFixed(2)
			if tx.Amount.IsNegative() {
				outflows = append(outflows, tx)
			} else if tx.Amount.IsPositive() {
				inflows[key] = append(inflows[key], inflow{account: acct, at: tx.PostedAt})
			}
		}
	}

	for _, out := range outflows {
		key := out.Amount.Abs().StringFixed(2)
		for _, in := range inflows[key] {
			if in.account == out.AccountID {
				continue
			}
			delta := in.at.Sub(out.PostedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= d.th.SelfDealingMatchWindow {
				res.add(domain.NewAlert(subject, domain.CategoryMultiIdentity, domain.SeverityCritical,
					fmt.Sprintf("$%s moved from %s to %s within %s across linked identities",
						key, out.AccountID, in.account, d.th.SelfDealingMatchWindow)))
				return
			}
		}
	}
}

// unionFind is a standard disjoint-set with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
