package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract names used as handle keys.
const (
	NameToken       = "token"
	NamePlatform    = "platform"
	NameCertificate = "certificate"
)

type TokenContract interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
}

type PlatformContract interface {
	Address() common.Address
	Course(ctx context.Context, id uint64) (models.CourseRecord, error)
	User(ctx context.Context, addr common.Address) (models.UserRecord, error)
	EnrolledCourses(ctx context.Context, addr common.Address) ([]uint64, error)
	InstructorCourses(ctx context.Context, addr common.Address) ([]uint64, error)
	InstructorEarnings(ctx context.Context, addr common.Address) (*big.Int, error)
	HasAccess(ctx context.Context, addr common.Address, courseID uint64) (bool, error)
	NextCourseID(ctx context.Context) (uint64, error)
	Owner(ctx context.Context) (common.Address, error)

	CompleteTest(ctx context.Context, score uint64) (*types.Transaction, error)
	RetakeTest(ctx context.Context, score uint64, fee *big.Int) (*types.Transaction, error)
	CreateCourse(ctx context.Context, title, description string, price *big.Int, contentCID, category string) (*types.Transaction, error)
	EnrollInCourse(ctx context.Context, courseID uint64) (*types.Transaction, error)
	CompleteCourse(ctx context.Context, courseID uint64, resultCID string) (*types.Transaction, error)
	PurchaseTokens(ctx context.Context, wei *big.Int) (*types.Transaction, error)
	ConvertTokensToETH(ctx context.Context, amount *big.Int) (*types.Transaction, error)
	WithdrawInstructorEarnings(ctx context.Context) (*types.Transaction, error)
}

type CertificateContract interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// ReceiptWaiter waits for and looks up transaction receipts.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Contracts is one set of handles bound to a single signer and chain.
type Contracts struct {
	Token       TokenContract
	Platform    PlatformContract
	Certificate CertificateContract
	Receipts    ReceiptWaiter
}

// Names lists the bound contract names, for display.
func (c *Contracts) Names() []string {
	if c == nil {
		return nil
	}
	var names []string
	if c.Token != nil {
		names = append(names, NameToken)
	}
	if c.Platform != nil {
		names = append(names, NamePlatform)
	}
	if c.Certificate != nil {
		names = append(names, NameCertificate)
	}
	return names
}

// Addresses are the deployed contract addresses.
type Addresses struct {
	Token       common.Address
	Platform    common.Address
	Certificate common.Address
}

type BindOptions struct {
	Backend   Backend
	Addresses Addresses
	Signer    Signer // nil for read-only handles
	ChainID   *big.Int
	// BeforeSend runs after signing and before broadcast. A non-nil error
	// aborts the send.
	BeforeSend func() error
}

// Bind builds a fresh handle set.
func Bind(opts BindOptions) (*Contracts, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("bind: nil backend")
	}
	if opts.ChainID == nil {
		return nil, fmt.Errorf("bind: chain id required")
	}
	return &Contracts{
		Token:       &Token{newBoundContract(opts.Addresses.Token, TokenABI, opts)},
		Platform:    &Platform{newBoundContract(opts.Addresses.Platform, PlatformABI, opts)},
		Certificate: &Certificate{newBoundContract(opts.Addresses.Certificate, CertificateABI, opts)},
		Receipts:    NewReceipts(opts.Backend, opts.ChainID),
	}, nil
}

// TestCompleted is the decoded TestCompleted event.
type TestCompleted struct {
	User         common.Address
	Score        *big.Int
	TokensEarned *big.Int
}

// ParseTestCompleted finds the TestCompleted event in a receipt.
func ParseTestCompleted(receipt *types.Receipt) (*TestCompleted, bool) {
	if receipt == nil {
		return nil, false
	}
	ev := PlatformABI.Events["TestCompleted"]
	for _, l := range receipt.Logs {
		if len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}
		out, err := PlatformABI.Unpack("TestCompleted", l.Data)
		if err != nil || len(out) < 2 {
			continue
		}
		score, ok1 := out[0].(*big.Int)
		earned, ok2 := out[1].(*big.Int)
		if !ok1 || !ok2 {
			continue
		}
		return &TestCompleted{
			User:         common.BytesToAddress(l.Topics[1].Bytes()),
			Score:        score,
			TokensEarned: earned,
		}, true
	}
	return nil, false
}

// ParseCourseCreated returns the id of the course created in receipt.
func ParseCourseCreated(receipt *types.Receipt) (uint64, bool) {
	if receipt == nil {
		return 0, false
	}
	ev := PlatformABI.Events["CourseCreated"]
	for _, l := range receipt.Logs {
		if len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}
