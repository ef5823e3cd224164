package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ConnectionState is the wallet connection lifecycle state.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Session is a read-only view of the wallet session.
type Session struct {
	State             ConnectionState `json:"state"`
	WalletAddress     common.Address  `json:"wallet_address"`
	NetworkID         int64           `json:"network_id"`
	ExpectedNetworkID int64           `json:"expected_network_id"`
	Contracts         []string        `json:"contracts"`
	Generation        uint64          `json:"generation"`
}

// WrongNetwork reports whether the wallet is on a chain other than the
// configured one. An unknown network id is not treated as a mismatch.
func (s Session) WrongNetwork() bool {
	return s.NetworkID != 0 && s.ExpectedNetworkID != 0 && s.NetworkID != s.ExpectedNetworkID
}

// BalanceSnapshot holds a cached token balance.
type BalanceSnapshot struct {
	Owner     common.Address `json:"owner"`
	Amount    *big.Int       `json:"amount"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
}

// Known reports whether the snapshot was ever read from the chain. An
// unknown snapshot carries a zero amount that must not be compared against.
func (b BalanceSnapshot) Known() bool {
	return !b.FetchedAt.IsZero()
}

// CourseRecord is the client-side projection of an on-chain course.
type CourseRecord struct {
	ID              uint64         `json:"id"`
	Instructor      common.Address `json:"instructor"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Price           *big.Int       `json:"price"`
	ContentCID      string         `json:"content_cid"`
	Category        string         `json:"category"`
	EnrollmentCount uint64         `json:"enrollment_count"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	Enrolled        bool           `json:"enrolled"`
}

// UserRecord is the client-side projection of an on-chain user entry.
type UserRecord struct {
	Address           common.Address `json:"address"`
	TestScore         uint64         `json:"test_score"`
	TokensEarned      *big.Int       `json:"tokens_earned"`
	CoursesCompleted  uint64         `json:"courses_completed"`
	HasCompletedTest  bool           `json:"has_completed_test"`
	EnrolledCourseIDs []uint64       `json:"enrolled_course_ids"`
}

func (u UserRecord) IsEnrolled(courseID uint64) bool {
	for _, id := range u.EnrolledCourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// TxKind names the on-chain operation behind a pending transaction.
type TxKind string

const (
	TxApprove          TxKind = "approve"
	TxEnroll           TxKind = "enroll"
	TxCompleteTest     TxKind = "complete_test"
	TxRetakeTest       TxKind = "retake_test"
	TxPurchaseTokens   TxKind = "purchase_tokens"
	TxCreateCourse     TxKind = "create_course"
	TxFundContract     TxKind = "fund_contract"
	TxCompleteCourse   TxKind = "complete_course"
	TxWithdrawEarnings TxKind = "withdraw_earnings"
	TxConvertTokens    TxKind = "convert_tokens"
)

// TxState is the lifecycle state of a pending transaction.
type TxState string

const (
	TxBuilding          TxState = "building"
	TxAwaitingSignature TxState = "awaiting_signature"
	TxSubmitted         TxState = "submitted"
	TxConfirmed         TxState = "confirmed"
	TxFailed            TxState = "failed"
)

// PendingTransaction tracks one orchestrated transaction.
type PendingTransaction struct {
	Kind        TxKind         `json:"kind"`
	Account     common.Address `json:"account"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Hash        string         `json:"hash,omitempty"`
	State       TxState        `json:"state"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	// TimedOut marks a Submitted transaction whose confirmation wait gave
	// up. Its outcome is unknown until rechecked.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Done reports whether the transaction reached a terminal state.
func (p PendingTransaction) Done() bool {
	return p.State == TxConfirmed || p.State == TxFailed
}

// InFlight reports whether the record still holds its (account, kind) slot.
func (p PendingTransaction) InFlight() bool {
	return !p.Done() && !p.TimedOut
}

// ChainResult holds test results for the configured network.
type ChainResult struct {
	Name            string      `json:"name"`
	ConfigChainID   int64       `json:"config_chain_id"`
	RPCs            []RPCResult `json:"rpcs"`
	Inconsistent    bool        `json:"inconsistent"`
	ChainIDUpdated  bool        `json:"chain_id_updated"`
	ObservedChainID int64       `json:"observed_chain_id,omitempty"`
}

// RPCResult holds test results for a specific RPC URL.
type RPCResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ContractResult holds the code check for a configured contract address.
type ContractResult struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	HasCode bool   `json:"has_code"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath      string           `json:"config_path"`
	ValidStructure  bool             `json:"valid_structure"`
	StructureErrors []string         `json:"structure_errors,omitempty"`
	Network         *ChainResult     `json:"network,omitempty"`
	Contracts       []ContractResult `json:"contracts,omitempty"`
	ConfigUpdated   bool             `json:"config_updated"`
	SaveError       string           `json:"save_error,omitempty"`
	DryRun          bool             `json:"dry_run"`
}
