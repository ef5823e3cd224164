package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rahuls2764/Skill/pkg/errs"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChainID = big.NewInt(31337)

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) *keySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (s *keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *keySigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

type rejectingSigner struct{}

func (rejectingSigner) Address() common.Address { return common.HexToAddress("0x01") }

func (rejectingSigner) SignTx(context.Context, *types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, errs.New(errs.UserRejected, "declined")
}

// fakeBackend answers calls by 4-byte selector.
type fakeBackend struct {
	mu       sync.Mutex
	calls    map[[4]byte]func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	misses   int
	baseFee  *big.Int
	code     map[common.Address][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:    make(map[[4]byte]func(ethereum.CallMsg, *big.Int) ([]byte, error)),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) on(m abi.Method, fn func(ethereum.CallMsg, *big.Int) ([]byte, error)) {
	var sel [4]byte
	copy(sel[:], m.ID)
	f.calls[sel] = fn
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var sel [4]byte
	copy(sel[:], msg.Data)
	fn, ok := f.calls[sel]
	if !ok {
		return nil, nil
	}
	return fn(msg, block)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[addr], nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.CodeAt(ctx, addr, nil)
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func testAddresses() Addresses {
	return Addresses{
		Token:       common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Platform:    common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
		Certificate: common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
	}
}

func bindTest(t *testing.T, backend Backend, signer Signer, beforeSend func() error) *Contracts {
	c, err := Bind(BindOptions{
		Backend:    backend,
		Addresses:  testAddresses(),
		Signer:     signer,
		ChainID:    testChainID,
		BeforeSend: beforeSend,
	})
	require.NoError(t, err)
	return c
}

func TestBind_Validation(t *testing.T) {
	_, err := Bind(BindOptions{ChainID: testChainID})
	assert.Error(t, err)
	_, err = Bind(BindOptions{Backend: newFakeBackend()})
	assert.Error(t, err)

	c := bindTest(t, newFakeBackend(), nil, nil)
	assert.Equal(t, []string{NameToken, NamePlatform, NameCertificate}, c.Names())
	assert.Nil(t, (*Contracts)(nil).Names())
}

func TestToken_BalanceAndAllowance(t *testing.T) {
	backend := newFakeBackend()
	owner := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	backend.on(TokenABI.Methods["balanceOf"], func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		args, err := TokenABI.Methods["balanceOf"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		if args[0].(common.Address) != owner {
			return TokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(0))
		}
		return TokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(5e18))
	})
	backend.on(TokenABI.Methods["allowance"], func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return TokenABI.Methods["allowance"].Outputs.Pack(big.NewInt(7))
	})

	c := bindTest(t, backend, nil, nil)
	bal, err := c.Token.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e18), bal)

	allowance, err := c.Token.Allowance(context.Background(), owner, testAddresses().Platform)
	require.NoError(t, err)
	assert.Equal(t, int64(7), allowance.Int64())
}

func TestCall_EmptyResult(t *testing.T) {
	c := bindTest(t, newFakeBackend(), nil, nil)
	_, err := c.Token.BalanceOf(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty result")
}

func TestPlatform_CourseAndUser(t *testing.T) {
	backend := newFakeBackend()
	instructor := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	backend.on(PlatformABI.Methods["courses"], func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return PlatformABI.Methods["courses"].Outputs.Pack(
			big.NewInt(3), instructor, "Go basics", "Intro", big.NewInt(10), "bafycid", "dev",
			big.NewInt(4), true, big.NewInt(1700000000),
		)
	})
	backend.on(PlatformABI.Methods["users"], func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		return PlatformABI.Methods["users"].Outputs.Pack(instructor, big.NewInt(8), big.NewInt(16), big.NewInt(1), true)
	})
	backend.on(PlatformABI.Methods["getUserEnrolledCourses"], func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return PlatformABI.Methods["getUserEnrolledCourses"].Outputs.Pack([]*big.Int{big.NewInt(1), big.NewInt(3)})
	})

	c := bindTest(t, backend, nil, nil)
	course, err := c.Platform.Course(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), course.ID)
	assert.Equal(t, instructor, course.Instructor)
	assert.Equal(t, "Go basics", course.Title)
	assert.Equal(t, "bafycid", course.ContentCID)
	assert.Equal(t, uint64(4), course.EnrollmentCount)
	assert.True(t, course.IsActive)
	assert.Equal(t, int64(1700000000), course.CreatedAt.Unix())

	user, err := c.Platform.User(context.Background(), instructor)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), user.TestScore)
	assert.True(t, user.HasCompletedTest)
	assert.Equal(t, []uint64{1, 3}, user.EnrolledCourseIDs)
	assert.True(t, user.IsEnrolled(3))
}

func TestTransact_SignsAndSends(t *testing.T) {
	backend := newFakeBackend()
	signer := newKeySigner(t)
	c := bindTest(t, backend, signer, nil)

	tx, err := c.Token.Approve(context.Background(), testAddresses().Platform, big.NewInt(2))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, testAddresses().Token, *tx.To())
	assert.Equal(t, TokenABI.Methods["approve"].ID, tx.Data()[:4])

	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	tx, err = c.Platform.PurchaseTokens(context.Background(), big.NewInt(1e17))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e17), tx.Value())
	assert.Equal(t, uint64(1), tx.Nonce())
}

func TestTransact_DynamicFeeOnLondon(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = big.NewInt(1_000_000_000)
	c := bindTest(t, backend, newKeySigner(t), nil)

	tx, err := c.Platform.EnrollInCourse(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, big.NewInt(100_000_000), tx.GasTipCap())
	require.Len(t, backend.sent, 1)
}

func TestTransact_SignerRejection(t *testing.T) {
	backend := newFakeBackend()
	c := bindTest(t, backend, rejectingSigner{}, nil)

	_, err := c.Token.Approve(context.Background(), testAddresses().Platform, big.NewInt(1))
	assert.ErrorIs(t, err, errs.ErrUserRejected)
	assert.Empty(t, backend.sent)
}

func TestTransact_BeforeSendAborts(t *testing.T) {
	backend := newFakeBackend()
	c := bindTest(t, backend, newKeySigner(t), func() error { return errs.ErrStaleSession })

	_, err := c.Platform.EnrollInCourse(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrStaleSession)
	assert.Empty(t, backend.sent)
}

func TestTransact_NoSigner(t *testing.T) {
	c := bindTest(t, newFakeBackend(), nil, nil)
	_, err := c.Platform.CompleteTest(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestWaitMined(t *testing.T) {
	backend := newFakeBackend()
	c := bindTest(t, backend, newKeySigner(t), nil)

	tx, err := c.Platform.CompleteTest(context.Background(), 8)
	require.NoError(t, err)
	backend.misses = 1
	backend.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(10)}

	receipt, err := c.Receipts.WaitMined(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
}

func TestWaitMined_RevertReason(t *testing.T) {
	backend := newFakeBackend()
	var replayedAt *big.Int
	backend.on(PlatformABI.Methods["enrollInCourse"], func(_ ethereum.CallMsg, block *big.Int) ([]byte, error) {
		replayedAt = block
		return nil, errors.New("execution reverted: Already enrolled")
	})
	c := bindTest(t, backend, newKeySigner(t), nil)

	tx, err := c.Platform.EnrollInCourse(context.Background(), 1)
	require.NoError(t, err)
	backend.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash(), BlockNumber: big.NewInt(12)}

	_, err = c.Receipts.WaitMined(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrContractReverted)
	var typed *errs.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "Already enrolled", typed.Reason)
	assert.Equal(t, tx.Hash().Hex(), typed.TxHash)
	assert.Equal(t, big.NewInt(12), replayedAt)
}

func TestWaitMined_UnknownRevert(t *testing.T) {
	backend := newFakeBackend()
	c := bindTest(t, backend, newKeySigner(t), nil)

	tx, err := c.Platform.WithdrawInstructorEarnings(context.Background())
	require.NoError(t, err)
	backend.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash(), BlockNumber: big.NewInt(3)}

	_, err = c.Receipts.WaitMined(context.Background(), tx)
	var typed *errs.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, errs.UnknownRevert, typed.Reason)
}

func TestWaitMined_ContextTimeout(t *testing.T) {
	backend := newFakeBackend()
	c := bindTest(t, backend, newKeySigner(t), nil)
	tx, err := c.Platform.CompleteTest(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Receipts.WaitMined(ctx, tx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseEvents(t *testing.T) {
	user := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	testEv := PlatformABI.Events["TestCompleted"]
	data, err := testEv.Inputs.NonIndexed().Pack(big.NewInt(8), big.NewInt(16))
	require.NoError(t, err)

	createdEv := PlatformABI.Events["CourseCreated"]
	createdData, err := createdEv.Inputs.NonIndexed().Pack("Go basics", big.NewInt(10))
	require.NoError(t, err)

	receipt := &types.Receipt{Logs: []*types.Log{
		{Topics: []common.Hash{common.HexToHash("0x01")}},
		{Topics: []common.Hash{testEv.ID, common.BytesToHash(user.Bytes())}, Data: data},
		{Topics: []common.Hash{createdEv.ID, common.BigToHash(big.NewInt(42)), common.BytesToHash(user.Bytes())}, Data: createdData},
	}}

	ev, ok := ParseTestCompleted(receipt)
	require.True(t, ok)
	assert.Equal(t, user, ev.User)
	assert.Equal(t, int64(8), ev.Score.Int64())
	assert.Equal(t, big.NewInt(16), ev.TokensEarned)

	id, ok := ParseCourseCreated(receipt)
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok = ParseTestCompleted(&types.Receipt{})
	assert.False(t, ok)
}

func TestDialAndProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var result interface{} = "0x0"
		if req.Method == "eth_chainId" {
			result = "0x7a69"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	defer server.Close()

	client, used, err := Dial(context.Background(), []string{"http://127.0.0.1:1", server.URL})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, server.URL, used)

	res := ProbeRPC(context.Background(), server.URL)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, int64(31337), res.ChainID)

	_, _, err = Dial(context.Background(), nil)
	assert.Error(t, err)
}
