// Benchmark tool: seeds synthetic banking activity with planted fraud
// patterns, runs scans over the HTTP API, and reports detection and latency.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -accounts 500
//
// This tool:
//  1. Generates baseline transactions, logins and identities for N accounts
//  2. Plants one instance of each fraud pattern (structuring, takeover,
//     dormant abuse, identity cluster) at known subjects
//  3. Triggers scans and measures end-to-end latency
//  4. Checks every planted subject was flagged and counts extra flags
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type apiClient struct {
	base   string
	tenant string
	http   *http.Client
}

func (c *apiClient) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenant)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// record shapes mirror the ingest API.
type tx struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Amount    string    `json:"amount"`
	PostedAt  time.Time `json:"postedAt"`
}

type login struct {
	Username    string    `json:"username"`
	Result      string    `json:"result"`
	AttemptedAt time.Time `json:"attemptedAt"`
	SourceIP    string    `json:"sourceIp"`
}

type identity struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	Active      bool      `json:"active"`
}

type coreStatus struct {
	MemberNumber string    `json:"memberNumber"`
	LastModified time.Time `json:"lastModified"`
	OpenedAt     time.Time `json:"openedAt"`
}

type memberLink struct {
	UserID       string `json:"userId"`
	MemberNumber string `json:"memberNumber"`
	AccountID    string `json:"accountId"`
}

type scanReport struct {
	ID         string `json:"id"`
	AlertCount int    `json:"alertCount"`
	DurationMs int64  `json:"durationMs"`
	Entities   []struct {
		Subject struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		} `json:"subject"`
		Score int    `json:"score"`
		Tier  string `json:"tier"`
	} `json:"entities"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	accounts := flag.Int("accounts", 500, "Number of baseline accounts")
	days := flag.Int("days", 90, "Days of history to generate")
	scans := flag.Int("scans", 5, "Number of scans to time")
	seed := flag.Int64("seed", 42, "PRNG seed")
	flag.Parse()

	fmt.Println("=================================================")
	fmt.Println("  FRAUDASAURUS BENCHMARK - synthetic scan load")
	fmt.Println("=================================================")
	fmt.Printf("\nAPI URL:   %s\n", *baseURL)
	fmt.Printf("Tenant:    %s\n", *tenantID)
	fmt.Printf("Accounts:  %d\n", *accounts)
	fmt.Printf("History:   %d days\n", *days)
	fmt.Println()

	client := &apiClient{
		base:   *baseURL,
		tenant: *tenantID,
		http:   &http.Client{Timeout: 120 * time.Second},
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: API not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run cmd/fraudasaurus/main.go")
		os.Exit(1)
	}
	fmt.Println("API is healthy")

	rng := rand.New(rand.NewSource(*seed))
	asOf := time.Now().UTC().Truncate(24 * time.Hour)

	fmt.Println("\nSeeding baseline activity...")
	counts, err := seedBaseline(client, rng, asOf, *accounts, *days)
	if err != nil {
		fmt.Printf("ERROR: seeding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %d transactions, %d logins, %d identities\n",
		counts.txs, counts.logins, counts.identities)

	fmt.Println("Planting fraud patterns...")
	planted, err := seedFraud(client, asOf)
	if err != nil {
		fmt.Printf("ERROR: planting failed: %v\n", err)
		os.Exit(1)
	}
	for _, p := range planted {
		fmt.Printf("  planted %s\n", p)
	}

	fmt.Printf("\nRunning %d scans...\n", *scans)
	var totalMs int64
	var report scanReport
	for i := 0; i < *scans; i++ {
		start := time.Now()
		if err := client.post("/scans", map[string]any{"asOf": asOf}, &report); err != nil {
			fmt.Printf("ERROR: scan failed: %v\n", err)
			os.Exit(1)
		}
		elapsed := time.Since(start).Milliseconds()
		totalMs += elapsed
		fmt.Printf("  scan %d: %d alerts, %d entities, %dms round-trip (%dms pipeline)\n",
			i+1, report.AlertCount, len(report.Entities), elapsed, report.DurationMs)
	}

	// Detection check against the last scan.
	flagged := make(map[string]string)
	for _, e := range report.Entities {
		flagged[e.Subject.Kind+":"+e.Subject.ID] = e.Tier
	}

	fmt.Println("\nDetection of planted patterns:")
	detected := 0
	for _, key := range planted {
		if tier, ok := flagged[key]; ok {
			fmt.Printf("  FLAGGED  %-24s [%s]\n", key, tier)
			detected++
		} else {
			fmt.Printf("  MISSED   %s\n", key)
		}
	}

	fmt.Println("\nResults:")
	fmt.Printf("  Planted patterns:  %d / %d detected\n", detected, len(planted))
	fmt.Printf("  Total entities:    %d (%d beyond planted subjects)\n",
		len(report.Entities), len(report.Entities)-detected)
	fmt.Printf("  Avg scan latency:  %dms\n", totalMs/int64(*scans))
	fmt.Println()
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

type seedCounts struct {
	txs, logins, identities int
}

// seedBaseline generates unremarkable activity: small varied transactions,
// mostly-successful logins from one address per user.
func seedBaseline(client *apiClient, rng *rand.Rand, asOf time.Time, accounts, days int) (seedCounts, error) {
	var counts seedCounts

	var txBatch []tx
	var loginBatch []login
	var idBatch []identity

	for a := 0; a < accounts; a++ {
		acct := fmt.Sprintf("acct-%04d", a)
		user := fmt.Sprintf("user-%04d", a)
		ip := fmt.Sprintf("192.168.%d.%d", a/250, a%250+1)

		idBatch = append(idBatch, identity{
			ID:          fmt.Sprintf("uid-%04d", a),
			Username:    user,
			DisplayName: fmt.Sprintf("Member %04d", a),
			Email:       fmt.Sprintf("member%04d@example.com", a),
			CreatedAt:   asOf.AddDate(-1-rng.Intn(5), 0, 0),
			Active:      true,
		})

		// A handful of transactions and logins spread over the window.
		for i := 0; i < 3+rng.Intn(5); i++ {
			day := rng.Intn(days)
			amount := fmt.Sprintf("%d.%02d", 20+rng.Intn(400), rng.Intn(100))
			if rng.Intn(2) == 0 {
				amount = "-" + amount
			}
			txBatch = append(txBatch, tx{
				ID:        fmt.Sprintf("tx-%04d-%d", a, i),
				AccountID: acct,
				Amount:    amount,
				PostedAt:  asOf.AddDate(0, 0, -day).Add(time.Duration(rng.Intn(86400)) * time.Second),
			})
		}
		for i := 0; i < 2+rng.Intn(4); i++ {
			day := rng.Intn(days)
			result := "success"
			if rng.Intn(10) == 0 {
				result = "bad_credentials"
			}
			loginBatch = append(loginBatch, login{
				Username:    user,
				Result:      result,
				AttemptedAt: asOf.AddDate(0, 0, -day).Add(time.Duration(rng.Intn(86400)) * time.Second),
				SourceIP:    ip,
			})
		}

		// Flush in batches so request bodies stay reasonable.
		if len(txBatch) >= 2000 {
			if err := client.post("/transactions", txBatch, nil); err != nil {
				return counts, err
			}
			counts.txs += len(txBatch)
			txBatch = txBatch[:0]
		}
		if len(loginBatch) >= 2000 {
			if err := client.post("/logins", loginBatch, nil); err != nil {
				return counts, err
			}
			counts.logins += len(loginBatch)
			loginBatch = loginBatch[:0]
		}
	}

	if len(txBatch) > 0 {
		if err := client.post("/transactions", txBatch, nil); err != nil {
			return counts, err
		}
		counts.txs += len(txBatch)
	}
	if len(loginBatch) > 0 {
		if err := client.post("/logins", loginBatch, nil); err != nil {
			return counts, err
		}
		counts.logins += len(loginBatch)
	}
	if err := client.post("/identities", idBatch, nil); err != nil {
		return counts, err
	}
	counts.identities = len(idBatch)

	return counts, nil
}

// seedFraud plants one instance of each pattern and returns the subject keys
// a scan is expected to flag.
func seedFraud(client *apiClient, asOf time.Time) ([]string, error) {
	var planted []string

	// Structuring: the same near-threshold amount, eleven times in a month.
	var txs []tx
	for i := 0; i < 11; i++ {
		txs = append(txs, tx{
			ID:        fmt.Sprintf("fraud-struct-%02d", i),
			AccountID: "acct-structuring",
			Amount:    "9500.00",
			PostedAt:  asOf.AddDate(0, 0, -30+i*2).Add(11 * time.Hour),
		})
	}

	// Dormant abuse: a member untouched for years with fresh digital volume.
	for i := 0; i < 4; i++ {
		txs = append(txs, tx{
			ID:        fmt.Sprintf("fraud-dorm-%02d", i),
			AccountID: "acct-dormant",
			Amount:    "800.00",
			PostedAt:  asOf.AddDate(0, 0, -20+i*3).Add(9 * time.Hour),
		})
	}
	if err := client.post("/transactions", txs, nil); err != nil {
		return nil, err
	}
	if err := client.post("/accounts", []coreStatus{{
		MemberNumber: "member-dormant",
		LastModified: asOf.AddDate(-8, 0, 0),
		OpenedAt:     asOf.AddDate(-15, 0, 0),
	}}, nil); err != nil {
		return nil, err
	}
	if err := client.post("/links", []memberLink{{
		UserID:       "uid-dormant",
		MemberNumber: "member-dormant",
		AccountID:    "acct-dormant",
	}}, nil); err != nil {
		return nil, err
	}

	// Account takeover: a tight burst of failures from one address.
	var logins []login
	burstAt := asOf.AddDate(0, 0, -1).Add(3 * time.Hour)
	for i := 0; i < 6; i++ {
		logins = append(logins, login{
			Username:    "user-takeover",
			Result:      "bad_credentials",
			AttemptedAt: burstAt.Add(time.Duration(i*30) * time.Second),
			SourceIP:    "203.0.113.66",
		})
	}
	if err := client.post("/logins", logins, nil); err != nil {
		return nil, err
	}

	// Identity cluster: six accounts behind one mailbox.
	var ids []identity
	for i := 0; i < 6; i++ {
		ids = append(ids, identity{
			ID:          fmt.Sprintf("uid-cluster-%d", i),
			Username:    fmt.Sprintf("cluster-user-%d", i),
			DisplayName: "Cluster Person",
			Email:       fmt.Sprintf("cluster+%d@example.com", i),
			CreatedAt:   asOf.AddDate(-1*i-1, -1, 0),
			Active:      true,
		})
	}
	if err := client.post("/identities", ids, nil); err != nil {
		return nil, err
	}

	planted = append(planted,
		"account:acct-structuring",
		"member:member-dormant",
		"user:user-takeover",
		"user:uid-cluster-0",
	)
	return planted, nil
}
