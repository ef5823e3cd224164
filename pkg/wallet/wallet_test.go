package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/errs"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fixedChain struct {
	id atomic.Int64
}

func (c *fixedChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(c.id.Load()), nil
}

func genKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
	}
	return keys
}

func TestRequestAccounts(t *testing.T) {
	t.Run("no keys", func(t *testing.T) {
		w := New(Options{})
		_, err := w.RequestAccounts(context.Background())
		assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
	})

	t.Run("rejected", func(t *testing.T) {
		w := New(Options{
			Keys:     genKeys(t, 1),
			Approver: ApproverFunc(func(context.Context, Request) (bool, error) { return false, nil }),
		})
		_, err := w.RequestAccounts(context.Background())
		assert.ErrorIs(t, err, errs.ErrUserRejected)

		accounts, err := w.Accounts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("granted", func(t *testing.T) {
		keys := genKeys(t, 2)
		w := New(Options{Keys: keys})

		silent, err := w.Accounts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, silent, "no grant yet")

		accounts, err := w.RequestAccounts(context.Background())
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, crypto.PubkeyToAddress(keys[0].PublicKey), accounts[0])

		silent, err = w.Accounts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, accounts, silent)
	})
}

func TestSelectAccountAndLock(t *testing.T) {
	keys := genKeys(t, 2)
	second := crypto.PubkeyToAddress(keys[1].PublicKey)
	w := New(Options{Keys: keys, Authorized: true})

	require.NoError(t, w.SelectAccount(second))
	ev := <-w.Events()
	assert.Equal(t, AccountsChanged, ev.Type)
	assert.Equal(t, second, ev.Accounts[0])

	assert.Error(t, w.SelectAccount(common.HexToAddress("0x01")))

	w.Lock()
	ev = <-w.Events()
	assert.Equal(t, AccountsChanged, ev.Type)
	assert.Empty(t, ev.Accounts)

	_, err := w.Signer(second)
	assert.ErrorIs(t, err, errs.ErrUserRejected)
}

func TestSignerApproval(t *testing.T) {
	keys := genKeys(t, 1)
	addr := crypto.PubkeyToAddress(keys[0].PublicKey)
	var approve atomic.Bool
	var lastKind RequestKind
	w := New(Options{
		Keys:       keys,
		Authorized: true,
		Approver: ApproverFunc(func(_ context.Context, req Request) (bool, error) {
			lastKind = req.Kind
			return approve.Load(), nil
		}),
	})

	signer, err := w.Signer(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, signer.Address())

	chainID := big.NewInt(31337)
	to := common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(0)})

	_, err = signer.SignTx(context.Background(), tx, chainID)
	assert.ErrorIs(t, err, errs.ErrUserRejected)
	assert.Equal(t, RequestSign, lastKind)

	approve.Store(true)
	signed, err := signer.SignTx(context.Background(), tx, chainID)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, from)
}

func TestWatchNetwork(t *testing.T) {
	c := &fixedChain{}
	c.id.Store(31337)
	w := New(Options{Keys: genKeys(t, 1), Chain: c})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.WatchNetwork(ctx, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	c.id.Store(1)

	select {
	case ev := <-w.Events():
		assert.Equal(t, ChainChanged, ev.Type)
		assert.Equal(t, int64(1), ev.ChainID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected chainChanged")
	}

	id, err := w.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestPromptApprover(t *testing.T) {
	a := NewPromptApprover()
	go func() {
		p := <-a.Prompts()
		p.Answer(p.Request.Kind == RequestConnect)
	}()
	ok, err := a.Approve(context.Background(), Request{Kind: RequestConnect})
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Approve(ctx, Request{Kind: RequestSign})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadKeys(t *testing.T) {
	t.Setenv("TEST_WALLET_KEY", "0x"+hardhatKey)
	keys, err := LoadKeys(config.WalletConfig{PrivateKeyEnv: "TEST_WALLET_KEY"})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", crypto.PubkeyToAddress(keys[0].PublicKey).Hex())

	t.Setenv("TEST_WALLET_KEY", "nothex")
	_, err = LoadKeys(config.WalletConfig{PrivateKeyEnv: "TEST_WALLET_KEY"})
	assert.Error(t, err)

	keys, err = LoadKeys(config.WalletConfig{PrivateKeyEnv: "TEST_WALLET_UNSET"})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLoadKeys_Keystore(t *testing.T) {
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	key := genKeys(t, 1)[0]
	account, err := ks.ImportECDSA(key, "secret")
	require.NoError(t, err)

	t.Setenv("TEST_KEYSTORE_PASS", "secret")
	keys, err := LoadKeys(config.WalletConfig{Keystore: account.URL.Path, PassphraseEnv: "TEST_KEYSTORE_PASS"})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, account.Address, crypto.PubkeyToAddress(keys[0].PublicKey))

	t.Setenv("TEST_KEYSTORE_PASS", "wrong")
	_, err = LoadKeys(config.WalletConfig{Keystore: account.URL.Path, PassphraseEnv: "TEST_KEYSTORE_PASS"})
	assert.Error(t, err)
}
