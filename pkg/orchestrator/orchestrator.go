// Package orchestrator sequences the platform's multi-step transactions:
// advisory pre-checks, approve-then-act, confirmation waits and the
// post-confirmation refresh of cached state.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/ipfs"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/session"
	"github.com/rahuls2764/Skill/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const DefaultConfirmationTimeout = 90 * time.Second

// Sessions hands out and re-validates contract handles.
type Sessions interface {
	Handles() (*session.Handles, error)
	Validate(h *session.Handles) error
}

// Balances is the advisory balance view.
type Balances interface {
	Refresh(ctx context.Context, owner common.Address) (models.BalanceSnapshot, error)
	Invalidate(owner common.Address)
}

// Uploader stores course content and quiz results off-chain.
type Uploader interface {
	UploadCourse(ctx context.Context, content ipfs.CourseContent) (string, error)
	UploadQuizResult(ctx context.Context, result ipfs.QuizResult) (string, error)
}

type Settings struct {
	RetakeFee           *big.Int
	RewardPerPoint      *big.Int
	ConfirmationTimeout time.Duration
	// LowReserve is the platform token reserve below which funding
	// reports a warning.
	LowReserve      *big.Int
	Decimals        int
	DisplayDecimals int
}

// SettingsFromConfig converts the configured token amounts to base units.
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	fee, err := cfg.RetakeFeeAmount()
	if err != nil {
		return Settings{}, fmt.Errorf("retake_fee: %w", err)
	}
	rate, err := cfg.RewardPerPoint()
	if err != nil {
		return Settings{}, fmt.Errorf("test_reward_per_point: %w", err)
	}
	low, _ := utils.ParseUnits("1000", cfg.TokenDecimals)
	return Settings{
		RetakeFee:           fee,
		RewardPerPoint:      rate,
		ConfirmationTimeout: cfg.ConfirmationTimeout(),
		LowReserve:          low,
		Decimals:            cfg.TokenDecimals,
		DisplayDecimals:     cfg.DisplayDecimals,
	}, nil
}

type Options struct {
	Sessions Sessions
	Balances Balances
	Uploader Uploader
	Reporter Reporter
	Bus      *events.Bus
	Log      *logger.Logger
	Settings Settings
}

type Orchestrator struct {
	sessions Sessions
	balances Balances
	uploader Uploader
	reporter Reporter
	log      *logger.Logger
	settings Settings
	tracker  *Tracker
	catalog  Catalog
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions: opts.Sessions,
		balances: opts.Balances,
		uploader: opts.Uploader,
		reporter: opts.Reporter,
		log:      opts.Log,
		settings: opts.Settings,
		tracker:  NewTracker(opts.Bus),
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.reporter == nil {
		o.reporter = BusReporter{Bus: opts.Bus, Log: o.log}
	}
	if o.settings.ConfirmationTimeout <= 0 {
		o.settings.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if o.settings.RetakeFee == nil {
		o.settings.RetakeFee = new(big.Int)
	}
	if o.settings.RewardPerPoint == nil {
		o.settings.RewardPerPoint = new(big.Int)
	}
	return o
}

// TestOutcome is the result of a confirmed test submission.
type TestOutcome struct {
	Retake   bool              `json:"retake"`
	Approved bool              `json:"approved"`
	TxHash   string            `json:"tx_hash"`
	Reward   *big.Int          `json:"reward"`
	User     models.UserRecord `json:"user"`
}

// FundOutcome is the result of topping up the platform's token reserve.
type FundOutcome struct {
	TxHash     string   `json:"tx_hash"`
	Reserve    *big.Int `json:"reserve,omitempty"`
	LowReserve bool     `json:"low_reserve"`
}

// CourseDraft is a course about to be created.
type CourseDraft struct {
	Title       string
	Description string
	Price       *big.Int
	Category    string
	Content     ipfs.CourseContent
}

// CourseCompletion is the result of completing a course.
type CourseCompletion struct {
	TxHash    string `json:"tx_hash"`
	ResultCID string `json:"result_cid"`
}

// CompleteTest submits a skill test score. The first attempt pays a
// reward from the platform's reserve; a retake costs RetakeFee, approved
// first when the allowance is short.
func (o *Orchestrator) CompleteTest(ctx context.Context, score uint64) (out TestOutcome, err error) {
	label := models.TxCompleteTest
	defer func() { err = o.fail(string(label), err) }()

	h, err := o.sessions.Handles()
	if err != nil {
		return out, err
	}
	user, err := h.Platform.User(ctx, h.Account)
	if err != nil {
		return out, err
	}
	out.Retake = user.HasCompletedTest
	if out.Retake {
		label = models.TxRetakeTest
	}
	t, err := o.tracker.Begin(h.Account, label)
	if err != nil {
		return out, err
	}
	defer func() { t.finish(err) }()

	expected := new(big.Int).Mul(new(big.Int).SetUint64(score), o.settings.RewardPerPoint)
	var receipt *types.Receipt
	if !out.Retake {
		if err = o.checkBalance(ctx, h.Platform.Address(), expected, errs.InsufficientContractReserve, "platform reserve"); err != nil {
			return out, err
		}
		receipt, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
			return h.Platform.CompleteTest(ctx, score)
		})
	} else {
		fee := o.settings.RetakeFee
		if err = o.checkBalance(ctx, h.Account, fee, errs.InsufficientFunds, "wallet balance"); err != nil {
			return out, err
		}
		if out.Approved, err = o.ensureAllowance(ctx, h, fee); err != nil {
			return out, err
		}
		receipt, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
			return h.Platform.RetakeTest(ctx, score, fee)
		})
	}
	if err != nil {
		return out, err
	}

	out.TxHash = t.hash()
	o.invalidate(h.Account, h.Platform.Address())
	out.Reward = expected
	if ev, ok := chain.ParseTestCompleted(receipt); ok {
		out.Reward = ev.TokensEarned
	}
	out.User = user
	if fresh, uerr := h.Platform.User(ctx, h.Account); uerr == nil {
		out.User = fresh
	} else {
		o.log.Warn("Could not re-read user after test", "error", uerr)
	}
	o.log.Info("Test submitted", "score", score, "retake", out.Retake, "reward", out.Reward.String(), "tx", out.TxHash)
	return out, nil
}

// Enroll buys access to a course. Enrolling twice is a no-op.
func (o *Orchestrator) Enroll(ctx context.Context, courseID uint64) (course models.CourseRecord, err error) {
	defer func() { err = o.fail(string(models.TxEnroll), err) }()

	h, err := o.sessions.Handles()
	if err != nil {
		return course, err
	}
	course, err = h.Platform.Course(ctx, courseID)
	if err != nil {
		return course, err
	}
	if course.ID == 0 {
		return course, errs.Newf(errs.InvalidArgument, "course %d does not exist", courseID)
	}
	if !course.IsActive {
		return course, errs.Newf(errs.InvalidArgument, "course %d is not active", courseID)
	}
	enrolled, err := h.Platform.EnrolledCourses(ctx, h.Account)
	if err != nil {
		return course, err
	}
	for _, id := range enrolled {
		if id == courseID {
			course.Enrolled = true
			return course, nil
		}
	}

	t, err := o.tracker.Begin(h.Account, models.TxEnroll)
	if err != nil {
		return course, err
	}
	defer func() { t.finish(err) }()

	if course.Price != nil && course.Price.Sign() > 0 {
		if err = o.checkBalance(ctx, h.Account, course.Price, errs.InsufficientFunds, "wallet balance"); err != nil {
			return course, err
		}
		if _, err = o.ensureAllowance(ctx, h, course.Price); err != nil {
			return course, err
		}
	}
	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.EnrollInCourse(ctx, courseID)
	}); err != nil {
		return course, err
	}

	o.invalidate(h.Account, h.Platform.Address())
	o.catalog.MarkEnrolled(h.Account, courseID)
	course.Enrolled = true
	course.EnrollmentCount++
	o.log.Info("Enrolled in course", "course", courseID, "tx", t.hash())
	return course, nil
}

// PurchaseTokens buys platform tokens with wei.
func (o *Orchestrator) PurchaseTokens(ctx context.Context, wei *big.Int) (hash string, err error) {
	defer func() { err = o.fail(string(models.TxPurchaseTokens), err) }()
	if wei == nil || wei.Sign() <= 0 {
		return "", errs.New(errs.InvalidArgument, "purchase amount must be positive")
	}
	h, err := o.sessions.Handles()
	if err != nil {
		return "", err
	}
	t, err := o.tracker.Begin(h.Account, models.TxPurchaseTokens)
	if err != nil {
		return "", err
	}
	defer func() { t.finish(err) }()

	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.PurchaseTokens(ctx, wei)
	}); err != nil {
		return "", err
	}
	o.invalidate(h.Account, h.Platform.Address())
	return t.hash(), nil
}

// CreateCourse uploads the course content and registers the course. No
// transaction is sent when the upload fails.
func (o *Orchestrator) CreateCourse(ctx context.Context, draft CourseDraft) (id uint64, err error) {
	defer func() { err = o.fail(string(models.TxCreateCourse), err) }()
	if draft.Title == "" {
		return 0, errs.New(errs.InvalidArgument, "course title is required")
	}
	if draft.Price == nil || draft.Price.Sign() < 0 {
		return 0, errs.New(errs.InvalidArgument, "course price is required")
	}
	if o.uploader == nil {
		return 0, errs.New(errs.ContentUploadFailed, "no upload backend configured")
	}
	h, err := o.sessions.Handles()
	if err != nil {
		return 0, err
	}
	t, err := o.tracker.Begin(h.Account, models.TxCreateCourse)
	if err != nil {
		return 0, err
	}
	defer func() { t.finish(err) }()

	meta := &draft.Content.Metadata
	if meta.Title == "" {
		meta.Title = draft.Title
	}
	if meta.Description == "" {
		meta.Description = draft.Description
	}
	if meta.Category == "" {
		meta.Category = draft.Category
	}
	if meta.Price == "" {
		meta.Price = utils.FromUnits(draft.Price, o.settings.Decimals).Text('f', -1)
	}
	cid, err := o.uploader.UploadCourse(ctx, draft.Content)
	if err != nil {
		if errs.KindOf(err) != errs.ContentUploadFailed {
			err = &errs.Error{Kind: errs.ContentUploadFailed, Reason: err.Error(), Err: err}
		}
		return 0, err
	}

	receipt, err := o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.CreateCourse(ctx, draft.Title, draft.Description, draft.Price, cid, draft.Category)
	})
	if err != nil {
		return 0, err
	}
	o.catalog.Reset()
	id, _ = chain.ParseCourseCreated(receipt)
	o.log.Info("Course created", "id", id, "cid", cid, "tx", t.hash())
	return id, nil
}

// FundContract transfers tokens from the caller into the platform's
// reward reserve.
func (o *Orchestrator) FundContract(ctx context.Context, amount *big.Int) (out FundOutcome, err error) {
	defer func() { err = o.fail(string(models.TxFundContract), err) }()
	if amount == nil || amount.Sign() <= 0 {
		return out, errs.New(errs.InvalidArgument, "funding amount must be positive")
	}
	h, err := o.sessions.Handles()
	if err != nil {
		return out, err
	}
	t, err := o.tracker.Begin(h.Account, models.TxFundContract)
	if err != nil {
		return out, err
	}
	defer func() { t.finish(err) }()

	if err = o.checkBalance(ctx, h.Account, amount, errs.InsufficientFunds, "wallet balance"); err != nil {
		return out, err
	}
	platform := h.Platform.Address()
	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Token.Transfer(ctx, platform, amount)
	}); err != nil {
		return out, err
	}
	out.TxHash = t.hash()
	o.invalidate(h.Account, platform)

	if reserve, rerr := h.Token.BalanceOf(ctx, platform); rerr == nil {
		out.Reserve = reserve
		out.LowReserve = o.settings.LowReserve != nil && reserve.Cmp(o.settings.LowReserve) < 0
		if out.LowReserve {
			o.log.Warn("Platform token reserve is low", "reserve", utils.FormatUnits(reserve, o.settings.Decimals, o.settings.DisplayDecimals))
		}
	}
	return out, nil
}

// CompleteCourse pins the quiz result and records completion on-chain,
// which mints the certificate.
func (o *Orchestrator) CompleteCourse(ctx context.Context, courseID uint64, result ipfs.QuizResult) (out CourseCompletion, err error) {
	defer func() { err = o.fail(string(models.TxCompleteCourse), err) }()
	if o.uploader == nil {
		return out, errs.New(errs.ContentUploadFailed, "no upload backend configured")
	}
	h, err := o.sessions.Handles()
	if err != nil {
		return out, err
	}
	t, err := o.tracker.Begin(h.Account, models.TxCompleteCourse)
	if err != nil {
		return out, err
	}
	defer func() { t.finish(err) }()

	result.CourseID = courseID
	result.Student = h.Account.Hex()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	out.ResultCID, err = o.uploader.UploadQuizResult(ctx, result)
	if err != nil {
		if errs.KindOf(err) != errs.ContentUploadFailed {
			err = &errs.Error{Kind: errs.ContentUploadFailed, Reason: err.Error(), Err: err}
		}
		return out, err
	}
	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.CompleteCourse(ctx, courseID, out.ResultCID)
	}); err != nil {
		return out, err
	}
	out.TxHash = t.hash()
	o.invalidate(h.Account)
	o.catalog.Reset()
	return out, nil
}

// WithdrawEarnings pays out the caller's accumulated instructor earnings.
func (o *Orchestrator) WithdrawEarnings(ctx context.Context) (hash string, err error) {
	defer func() { err = o.fail(string(models.TxWithdrawEarnings), err) }()
	h, err := o.sessions.Handles()
	if err != nil {
		return "", err
	}
	t, err := o.tracker.Begin(h.Account, models.TxWithdrawEarnings)
	if err != nil {
		return "", err
	}
	defer func() { t.finish(err) }()

	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.WithdrawInstructorEarnings(ctx)
	}); err != nil {
		return "", err
	}
	o.invalidate(h.Account, h.Platform.Address())
	return t.hash(), nil
}

// ConvertTokens sells tokens back to the platform for ETH.
func (o *Orchestrator) ConvertTokens(ctx context.Context, amount *big.Int) (hash string, err error) {
	defer func() { err = o.fail(string(models.TxConvertTokens), err) }()
	if amount == nil || amount.Sign() <= 0 {
		return "", errs.New(errs.InvalidArgument, "amount must be positive")
	}
	h, err := o.sessions.Handles()
	if err != nil {
		return "", err
	}
	t, err := o.tracker.Begin(h.Account, models.TxConvertTokens)
	if err != nil {
		return "", err
	}
	defer func() { t.finish(err) }()

	if err = o.checkBalance(ctx, h.Account, amount, errs.InsufficientFunds, "wallet balance"); err != nil {
		return "", err
	}
	if _, err = o.ensureAllowance(ctx, h, amount); err != nil {
		return "", err
	}
	if _, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Platform.ConvertTokensToETH(ctx, amount)
	}); err != nil {
		return "", err
	}
	o.invalidate(h.Account, h.Platform.Address())
	return t.hash(), nil
}

// Recheck looks up the receipt of a transaction whose confirmation wait
// timed out and settles its record.
func (o *Orchestrator) Recheck(ctx context.Context, hash string) (rec models.PendingTransaction, err error) {
	defer func() { err = o.fail("recheck", err) }()
	if len(common.FromHex(hash)) != common.HashLength {
		return rec, errs.Newf(errs.InvalidArgument, "invalid transaction hash %q", hash)
	}
	txHash := common.HexToHash(hash)
	hash = txHash.Hex()

	h, err := o.sessions.Handles()
	if err != nil {
		return rec, err
	}
	receipt, err := h.Receipts.Receipt(ctx, txHash)
	if err != nil {
		return rec, err
	}

	rec, known := o.tracker.Lookup(hash)
	if !known {
		rec = models.PendingTransaction{Hash: hash, Account: h.Account, State: models.TxSubmitted}
	}
	if receipt == nil {
		o.log.Info("Transaction still pending", "tx", hash)
		return rec, nil
	}

	state, msg := models.TxConfirmed, ""
	if receipt.Status == types.ReceiptStatusFailed {
		state, msg = models.TxFailed, errs.WithTx(errs.Reverted(""), hash).Error()
	}
	if settled, ok := o.tracker.Resolve(hash, state, msg); ok {
		rec = settled
	} else {
		rec.State, rec.Error, rec.UpdatedAt = state, msg, time.Now()
	}
	if state == models.TxConfirmed {
		o.invalidate(rec.Account, h.Platform.Address())
		o.catalog.Reset()
	}
	o.log.Info("Transaction rechecked", "tx", hash, "state", state)
	return rec, nil
}

// Pending lists tracked transactions, newest first.
func (o *Orchestrator) Pending() []models.PendingTransaction {
	return o.tracker.List()
}

// User reads the connected account's user record.
func (o *Orchestrator) User(ctx context.Context) (models.UserRecord, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return models.UserRecord{}, err
	}
	u, err := h.Platform.User(ctx, h.Account)
	return u, errs.Classify(err)
}

// Courses lists active courses with the account's enrollment flags.
func (o *Orchestrator) Courses(ctx context.Context) ([]models.CourseRecord, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return nil, err
	}
	courses, err := o.catalog.Load(ctx, h.Platform, h.Account, false)
	return courses, errs.Classify(err)
}

// Course reads one course with the account's enrollment flag.
func (o *Orchestrator) Course(ctx context.Context, id uint64) (models.CourseRecord, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return models.CourseRecord{}, err
	}
	course, err := h.Platform.Course(ctx, id)
	if err != nil {
		return course, errs.Classify(err)
	}
	if course.ID == 0 {
		return course, errs.Newf(errs.InvalidArgument, "course %d does not exist", id)
	}
	ids, err := h.Platform.EnrolledCourses(ctx, h.Account)
	if err != nil {
		return course, errs.Classify(err)
	}
	for _, e := range ids {
		if e == id {
			course.Enrolled = true
		}
	}
	return course, nil
}

// ContractReserve reads the platform's token reserve.
func (o *Orchestrator) ContractReserve(ctx context.Context) (*big.Int, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return nil, err
	}
	v, err := h.Token.BalanceOf(ctx, h.Platform.Address())
	return v, errs.Classify(err)
}

// IsOwner reports whether the connected account owns the platform.
func (o *Orchestrator) IsOwner(ctx context.Context) (bool, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return false, err
	}
	owner, err := h.Platform.Owner(ctx)
	if err != nil {
		return false, errs.Classify(err)
	}
	return owner == h.Account, nil
}

// Certificates counts the account's certificate NFTs.
func (o *Orchestrator) Certificates(ctx context.Context) (*big.Int, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return nil, err
	}
	if h.Certificate == nil {
		return new(big.Int), nil
	}
	v, err := h.Certificate.BalanceOf(ctx, h.Account)
	return v, errs.Classify(err)
}

// InstructorEarnings reads the account's withdrawable earnings.
func (o *Orchestrator) InstructorEarnings(ctx context.Context) (*big.Int, error) {
	h, err := o.sessions.Handles()
	if err != nil {
		return nil, err
	}
	v, err := h.Platform.InstructorEarnings(ctx, h.Account)
	return v, errs.Classify(err)
}

// send submits one transaction and waits for it. The handle set is
// re-validated first, so no signature is requested on stale handles.
func (o *Orchestrator) send(ctx context.Context, h *session.Handles, t *ticket, submit func(context.Context) (*types.Transaction, error)) (*types.Receipt, error) {
	if err := o.sessions.Validate(h); err != nil {
		return nil, err
	}
	t.awaitingSignature()
	tx, err := submit(ctx)
	if err != nil {
		return nil, errs.Classify(err)
	}
	t.submitted(tx.Hash())
	o.log.Info("Transaction submitted", "kind", t.key.kind, "tx", tx.Hash().Hex())

	wctx, cancel := context.WithTimeout(ctx, o.settings.ConfirmationTimeout)
	defer cancel()
	receipt, err := h.Receipts.WaitMined(wctx, tx)
	if err != nil {
		if wctx.Err() != nil {
			return nil, &errs.Error{
				Kind:   errs.ConfirmationTimeout,
				Reason: "not confirmed yet, recheck later",
				TxHash: tx.Hash().Hex(),
				Err:    err,
			}
		}
		return receipt, errs.WithTx(err, tx.Hash().Hex())
	}
	return receipt, nil
}

// ensureAllowance approves amount for the platform when the current
// allowance is short and waits for the approval to confirm.
func (o *Orchestrator) ensureAllowance(ctx context.Context, h *session.Handles, amount *big.Int) (bool, error) {
	spender := h.Platform.Address()
	allowance, err := h.Token.Allowance(ctx, h.Account, spender)
	if err != nil {
		return false, errs.Classify(err)
	}
	if allowance.Cmp(amount) >= 0 {
		return false, nil
	}
	t, err := o.tracker.Begin(h.Account, models.TxApprove)
	if err != nil {
		return false, err
	}
	_, err = o.send(ctx, h, t, func(ctx context.Context) (*types.Transaction, error) {
		return h.Token.Approve(ctx, spender, amount)
	})
	t.finish(err)
	if err != nil {
		return false, err
	}
	o.log.Info("Allowance approved", "amount", amount.String(), "tx", t.hash())
	return true, nil
}

// checkBalance is an advisory pre-check. When the balance cannot be read
// the check is skipped and the contract decides.
func (o *Orchestrator) checkBalance(ctx context.Context, owner common.Address, need *big.Int, kind errs.Kind, what string) error {
	if o.balances == nil || need == nil {
		return nil
	}
	snap, err := o.balances.Refresh(ctx, owner)
	if err != nil || !snap.Known() || snap.Amount == nil {
		o.log.Debug("Advisory balance check skipped", "owner", owner.Hex(), "error", err)
		return nil
	}
	if snap.Amount.Cmp(need) < 0 {
		return errs.Newf(kind, "%s is %s, need %s",
			what,
			utils.FormatUnits(snap.Amount, o.settings.Decimals, o.settings.DisplayDecimals),
			utils.FormatUnits(need, o.settings.Decimals, o.settings.DisplayDecimals))
	}
	return nil
}

func (o *Orchestrator) invalidate(owners ...common.Address) {
	if o.balances == nil {
		return
	}
	for _, owner := range owners {
		o.balances.Invalidate(owner)
	}
}

// fail classifies err and reports it. It returns nil for nil.
func (o *Orchestrator) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	err = errs.Classify(err)
	o.reporter.Report(errs.KindOf(err), fmt.Sprintf("%s: %v", op, err))
	return err
}
