// Package domain defines the core records, interfaces and types for Fraudasaurus.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single posted digital-channel transaction.
// Amounts are signed: negative means outflow. Transactions are immutable,
// append-only facts; the pipeline never updates or deletes them.
type Transaction struct {
	ID       string          `json:"id"`
	AccountID string         `json:"accountId"`
	Amount   decimal.Decimal `json:"amount"`
	PostedAt time.Time       `json:"postedAt"`
	Memo     string          `json:"memo,omitempty"`
	Type     string          `json:"type,omitempty"`

	// UserID links to the initiating UserIdentity. Optional.
	UserID string `json:"userId,omitempty"`
}

// Validate reports whether the transaction carries its required fields.
func (t *Transaction) Validate() error {
	if t.AccountID == "" {
		return fmt.Errorf("transaction %s: accountId is required", t.ID)
	}
	if t.PostedAt.IsZero() {
		return fmt.Errorf("transaction %s: postedAt is required", t.ID)
	}
	return nil
}

// Login result codes. Anything other than LoginSuccess counts as a failure.
const (
	LoginSuccess        = "success"
	LoginBadCredentials = "bad_credentials"
	LoginLockedOut      = "locked_out"
	LoginDormantTarget  = "dormant_target"
	LoginUnknownAccount = "unknown_account"
)

// LoginAttempt is one digital-channel authentication attempt.
// Immutable and ordered by AttemptedAt per username.
type LoginAttempt struct {
	Username    string    `json:"username"`
	Result      string    `json:"result"`
	AttemptedAt time.Time `json:"attemptedAt"`
	SourceIP    string    `json:"sourceIp"`
}

// Succeeded reports whether the attempt authenticated.
func (l *LoginAttempt) Succeeded() bool {
	return l.Result == LoginSuccess
}

// Validate reports whether the attempt carries its required fields.
func (l *LoginAttempt) Validate() error {
	if l.Username == "" {
		return fmt.Errorf("login attempt: username is required")
	}
	if l.AttemptedAt.IsZero() {
		return fmt.Errorf("login attempt for %s: attemptedAt is required", l.Username)
	}
	return nil
}

// UserIdentity is one digital-channel identity record. Multiple identities
// sharing an email or name fragment is exactly the condition the
// multi-identity detector surfaces, not an error state.
type UserIdentity struct {
	ID          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	Active      bool      `json:"active"`

	// MemberNumber links to the core system. Optional.
	MemberNumber string `json:"memberNumber,omitempty"`
}

// Validate reports whether the identity carries its required fields.
func (u *UserIdentity) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user identity: id is required")
	}
	return nil
}

// CoreAccountStatus is the core-banking view of a member account,
// independent of the digital channel.
type CoreAccountStatus struct {
	MemberNumber string     `json:"memberNumber"`
	LastModified time.Time  `json:"lastModified"`
	OpenedAt     time.Time  `json:"openedAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
}

// Closed reports whether the account reached its terminal closed state.
func (c *CoreAccountStatus) Closed() bool {
	return c.ClosedAt != nil
}

// Validate reports whether the status carries its required fields.
func (c *CoreAccountStatus) Validate() error {
	if c.MemberNumber == "" {
		return fmt.Errorf("core account status: memberNumber is required")
	}
	if c.LastModified.IsZero() {
		return fmt.Errorf("core account status %s: lastModified is required", c.MemberNumber)
	}
	return nil
}

// AccountAction is an account-mutating action (profile edit, new transfer
// recipient) from an optional collaborator dataset. Rules depending on it
// are skipped when the collection is absent.
type AccountAction struct {
	Username   string    `json:"username"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`
}

// MemberLink associates a digital user and account with a core member
// number. The join is resolved upstream; the pipeline only consumes it.
type MemberLink struct {
	UserID       string `json:"userId"`
	MemberNumber string `json:"memberNumber"`
	AccountID    string `json:"accountId"`
}

// Snapshot is the materialized, read-only input of one pipeline run.
// Actions and Links are optional collaborator tables; a nil slice disables
// the rules that need them.
type Snapshot struct {
	AsOf         time.Time
	Transactions []Transaction
	Logins       []LoginAttempt
	Identities   []UserIdentity
	CoreAccounts []CoreAccountStatus
	Actions      []AccountAction
	Links        []MemberLink
}
