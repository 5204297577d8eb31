package purchase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vtu-platform/internal/catalog"
	"vtu-platform/internal/fulfillment"
	"vtu-platform/internal/ledger"
	"vtu-platform/internal/pinguard"
	"vtu-platform/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// recorder collects the order in which collaborators are touched.
type recorder struct{ steps []string }

func (r *recorder) add(s string) { r.steps = append(r.steps, s) }

type recordingCatalog struct {
	*catalog.MemoryCatalog
	rec *recorder
}

func (c recordingCatalog) Lookup(ctx context.Context, serviceType string) (catalog.Service, error) {
	c.rec.add("availability")
	return c.MemoryCatalog.Lookup(ctx, serviceType)
}

type fakePins struct {
	rec       *recorder
	lockErr   error
	verifyErr error
}

func (p *fakePins) LockStatus(ctx context.Context, userID string) error {
	p.rec.add("pin_lock")
	return p.lockErr
}

func (p *fakePins) Verify(ctx context.Context, userID, pin string) error {
	p.rec.add("pin_verify")
	return p.verifyErr
}

type recordingWallets struct {
	*wallet.MemoryStore
	rec       *recorder
	debitErrs []error
}

func (w *recordingWallets) Get(ctx context.Context, userID string) (wallet.Wallet, error) {
	w.rec.add("balance")
	return w.MemoryStore.Get(ctx, userID)
}

func (w *recordingWallets) Debit(ctx context.Context, p wallet.Posting) (wallet.PostingResult, error) {
	w.rec.add("debit")
	if len(w.debitErrs) > 0 {
		err := w.debitErrs[0]
		w.debitErrs = w.debitErrs[1:]
		return wallet.PostingResult{}, err
	}
	return w.MemoryStore.Debit(ctx, p)
}

type fakeProvider struct {
	rec   *recorder
	calls []fulfillment.Request
	fn    func(req fulfillment.Request) (fulfillment.Result, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fulfill(ctx context.Context, req fulfillment.Request) (fulfillment.Result, error) {
	p.rec.add("provider")
	p.calls = append(p.calls, req)
	return p.fn(req)
}

type fixture struct {
	svc      *Service
	rec      *recorder
	cat      *catalog.MemoryCatalog
	pins     *fakePins
	wallets  *recordingWallets
	ledger   *ledger.Service
	provider *fakeProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	f := &fixture{
		rec:     rec,
		cat:     catalog.NewMemoryCatalog(),
		pins:    &fakePins{rec: rec},
		wallets: &recordingWallets{MemoryStore: wallet.NewMemoryStore(), rec: rec},
		ledger:  ledger.NewService(ledger.NewMemoryRepo(), nil, 3),
		provider: &fakeProvider{rec: rec, fn: func(fulfillment.Request) (fulfillment.Result, error) {
			return fulfillment.Result{Success: true, ProviderReference: "PRV-1", Message: "delivered"}, nil
		}},
	}
	f.wallets.Seed("u1", d("1000"))
	f.svc = NewService(recordingCatalog{f.cat, rec}, f.pins, f.wallets, f.ledger, f.provider, nil)
	f.svc.newReference = func() string { return "VTU-TEST-1" }
	return f
}

func airtime(amount string) Request {
	return Request{
		UserID:            "u1",
		ServiceType:       "airtime",
		Amount:            d(amount),
		Pin:               "1234",
		ServiceParameters: map[string]string{"phone": "08030000000", "network": "mtn"},
	}
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.MemoryStore.Get(context.Background(), "u1")
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) transactions(t *testing.T) []ledger.Transaction {
	t.Helper()
	txs, err := f.ledger.List(context.Background(), ledger.Filter{UserID: "u1"})
	require.NoError(t, err)
	return txs
}

func TestPurchase_SuccessDebitsAfterProvider(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NewBalance.Equal(d("800")))

	tx := res.Transaction
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
	assert.Equal(t, ledger.TypeDebit, tx.Type)
	assert.Equal(t, ledger.CategoryPayment, tx.Category)
	assert.True(t, tx.PreviousBalance.Equal(d("1000")))
	assert.True(t, tx.NewBalance.Equal(d("800")))
	assert.Equal(t, "VTU-TEST-1", tx.Reference)
	assert.Equal(t, "VTU-TEST-1", tx.Metadata.OrderReference)
	assert.Equal(t, "PRV-1", tx.Metadata.ProviderReference)
	assert.Equal(t, "VTU-TEST-1", f.provider.calls[0].Reference)
	assert.Nil(t, tx.Metadata.RetryCount)

	assert.Equal(t, []string{"availability", "pin_lock", "pin_verify", "balance", "provider", "debit"}, f.rec.steps)
	assert.True(t, f.balance(t).Equal(d("800")))
}

func TestPurchase_GeneratesReferenceWhenProviderHasNone(t *testing.T) {
	f := newFixture(t)
	f.svc.newReference = f.svc.generateReference
	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{Success: true}, nil
	}

	res, err := f.svc.Purchase(context.Background(), airtime("100"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Transaction.Reference, "VTU-"), res.Transaction.Reference)
	assert.Equal(t, res.Transaction.Reference, res.Transaction.Metadata.OrderReference)
}

func TestPurchase_RepeatedProviderReferenceStillRecordsEachPurchase(t *testing.T) {
	f := newFixture(t)
	f.svc.newReference = f.svc.generateReference

	first, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.NoError(t, err)
	second, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Transaction.Reference, second.Transaction.Reference)
	assert.Equal(t, "PRV-1", first.Transaction.Metadata.ProviderReference)
	assert.Equal(t, "PRV-1", second.Transaction.Metadata.ProviderReference)
	assert.True(t, f.balance(t).Equal(d("600")))
	assert.Len(t, f.transactions(t), 2)
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Purchase(context.Background(), airtime("1500"))
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	var ibe *wallet.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.True(t, ibe.Balance.Equal(d("1000")))
	assert.True(t, ibe.Required.Equal(d("1500")))

	assert.True(t, f.balance(t).Equal(d("1000")))
	assert.Empty(t, f.transactions(t))
	assert.Empty(t, f.provider.calls)
}

func TestPurchase_ProviderFailureRecordsFailedTransaction(t *testing.T) {
	f := newFixture(t)
	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{Success: false, Message: "invalid phone number"}, nil
	}

	res, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.ErrorIs(t, err, ErrProviderFailure)
	var pfe *ProviderFailureError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, "invalid phone number", pfe.Message)

	tx := res.Transaction
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.NotNil(t, tx.FailedAt)
	assert.Nil(t, tx.Metadata.RetryCount)
	assert.Equal(t, "invalid phone number", tx.Metadata.FailureReason)
	assert.Equal(t, "VTU-TEST-1", tx.Reference)
	assert.False(t, tx.Metadata.Fulfilled)

	assert.True(t, f.balance(t).Equal(d("1000")))
	assert.NotContains(t, f.rec.steps, "debit")
	assert.Len(t, f.transactions(t), 1)
}

func TestPurchase_ProviderTimeoutNeverDebits(t *testing.T) {
	f := newFixture(t)
	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{}, fulfillment.ErrTimeout
	}

	res, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, fulfillment.ErrTimeout)
	assert.Equal(t, "provider did not respond in time", res.Transaction.Metadata.FailureReason)
	assert.True(t, f.balance(t).Equal(d("1000")))
}

func TestPurchase_EarlyFailuresStopLaterSteps(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture) Request
		want  error
		steps []string
	}{
		{
			name: "unknown service",
			setup: func(f *fixture) Request {
				r := airtime("200")
				r.ServiceType = "lottery"
				return r
			},
			want:  ErrServiceUnavailable,
			steps: []string{"availability"},
		},
		{
			name: "disabled service",
			setup: func(f *fixture) Request {
				_ = f.cat.SetEnabled("airtime", false, "network outage")
				return airtime("200")
			},
			want:  ErrServiceUnavailable,
			steps: []string{"availability"},
		},
		{
			name:  "amount out of range",
			setup: func(f *fixture) Request { return airtime("10") },
			want:  catalog.ErrAmountOutOfRange,
			steps: []string{"availability"},
		},
		{
			name: "locked",
			setup: func(f *fixture) Request {
				f.pins.lockErr = &pinguard.LockedError{Remaining: 10 * time.Minute}
				return airtime("200")
			},
			want:  pinguard.ErrLocked,
			steps: []string{"availability", "pin_lock"},
		},
		{
			name: "invalid pin",
			setup: func(f *fixture) Request {
				f.pins.verifyErr = &pinguard.InvalidPinError{AttemptsRemaining: 2}
				return airtime("200")
			},
			want:  pinguard.ErrInvalidPin,
			steps: []string{"availability", "pin_lock", "pin_verify"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Purchase(context.Background(), tc.setup(f))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.steps, f.rec.steps)
			assert.Empty(t, f.transactions(t))
			assert.True(t, f.balance(t).Equal(d("1000")))
		})
	}
}

func TestPurchase_ServiceUnavailableCarriesReason(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cat.SetEnabled("data", false, "data is under maintenance"))
	r := airtime("200")
	r.ServiceType = "data"

	_, err := f.svc.Purchase(context.Background(), r)
	var sue *ServiceUnavailableError
	require.True(t, errors.As(err, &sue))
	assert.Equal(t, "data is under maintenance", sue.Reason)
}

func TestPurchase_DebitFailureAfterFulfillmentIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.wallets.debitErrs = []error{wallet.ErrConflict}

	_, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.ErrorIs(t, err, wallet.ErrConflict)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.StatusFailed, txs[0].Status)
	assert.Equal(t, "PRV-1", txs[0].Metadata.ProviderReference)
	assert.True(t, txs[0].Metadata.Fulfilled)
	assert.True(t, f.balance(t).Equal(d("1000")))
}

func TestResume_RetriesFulfillmentInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{}, fulfillment.ErrUnavailable
	}
	res, err := f.svc.Purchase(ctx, airtime("200"))
	require.ErrorIs(t, err, ErrProviderFailure)
	id := res.Transaction.ID

	_, err = f.ledger.Retry(ctx, id, ledger.Actor{ID: "admin-1", Role: "admin"})
	require.NoError(t, err)

	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{Success: true, ProviderReference: "PRV-2"}, nil
	}
	out, err := f.svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, out.Transaction.Status)
	assert.True(t, out.Transaction.PreviousBalance.Equal(d("1000")))
	assert.True(t, out.Transaction.NewBalance.Equal(d("800")))
	assert.Equal(t, "PRV-2", out.Transaction.Metadata.ProviderReference)
	assert.Equal(t, 1, out.Transaction.Metadata.Retries())
	assert.Equal(t, "VTU-TEST-1-R1", f.provider.calls[1].Reference)
	assert.True(t, f.balance(t).Equal(d("800")))
}

func TestResume_FulfilledOrderIsOnlyDebited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wallets.debitErrs = []error{wallet.ErrConflict}
	_, _ = f.svc.Purchase(ctx, airtime("200"))
	id := f.transactions(t)[0].ID

	_, err := f.ledger.Retry(ctx, id, ledger.SystemActor)
	require.NoError(t, err)
	out, err := f.svc.Resume(ctx, id)
	require.NoError(t, err)

	assert.Len(t, f.provider.calls, 1, "provider is not called again")
	assert.Equal(t, ledger.StatusCompleted, out.Transaction.Status)
	assert.Empty(t, out.Transaction.Metadata.FailureReason)
	assert.True(t, f.balance(t).Equal(d("800")))

	// A second resume attempt cannot debit twice.
	_, err = f.svc.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrNotResumable)
	assert.True(t, f.balance(t).Equal(d("800")))
}

func TestResume_RejectsNonPending(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Purchase(context.Background(), airtime("200"))
	require.NoError(t, err)
	_, err = f.svc.Resume(context.Background(), res.Transaction.ID)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestPurchase_WithPinGuardLocksOnThirdFailure(t *testing.T) {
	rec := &recorder{}
	guard := pinguard.NewGuard(pinguard.NewMemoryAttemptStore(pinguard.Policy{}), pinguard.NewMemoryCredentialStore(), nil, pinguard.Policy{})
	require.NoError(t, guard.SetPin(context.Background(), "u1", "", "1234"))

	wallets := &recordingWallets{MemoryStore: wallet.NewMemoryStore(), rec: rec}
	wallets.Seed("u1", d("1000"))
	provider := &fakeProvider{rec: rec, fn: func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{Success: true}, nil
	}}
	svc := NewService(catalog.NewMemoryCatalog(), guard, wallets, ledger.NewService(ledger.NewMemoryRepo(), nil, 3), provider, nil)

	wrong := airtime("200")
	wrong.Pin = "0000"
	var ipe *pinguard.InvalidPinError
	_, err := svc.Purchase(context.Background(), wrong)
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, 2, ipe.AttemptsRemaining)
	_, _ = svc.Purchase(context.Background(), wrong)

	_, err = svc.Purchase(context.Background(), wrong)
	var le *pinguard.LockedError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 15, le.RemainingMinutes())

	_, err = svc.Purchase(context.Background(), airtime("200"))
	assert.ErrorIs(t, err, pinguard.ErrLocked)
	assert.Empty(t, provider.calls)
}

// brokenUpdates fails ledger updates once armed.
type brokenUpdates struct {
	*ledger.MemoryRepo
	armed bool
}

func (r *brokenUpdates) Update(ctx context.Context, id string, fn func(t *ledger.Transaction) error) (ledger.Transaction, error) {
	if r.armed {
		return ledger.Transaction{}, errors.New("connection reset")
	}
	return r.MemoryRepo.Update(ctx, id, fn)
}

func TestResume_InsufficientBalanceSurfacesRecordFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &brokenUpdates{MemoryRepo: ledger.NewMemoryRepo()}
	f.ledger = ledger.NewService(repo, nil, 3)
	f.svc = NewService(recordingCatalog{f.cat, f.rec}, f.pins, f.wallets, f.ledger, f.provider, nil)
	f.provider.fn = func(fulfillment.Request) (fulfillment.Result, error) {
		return fulfillment.Result{}, fulfillment.ErrUnavailable
	}

	res, err := f.svc.Purchase(ctx, airtime("200"))
	require.ErrorIs(t, err, ErrProviderFailure)
	id := res.Transaction.ID
	_, err = f.ledger.Retry(ctx, id, ledger.SystemActor)
	require.NoError(t, err)

	_, err = f.wallets.MemoryStore.Debit(ctx, wallet.Posting{UserID: "u1", Amount: d("900"), Reference: "drain"})
	require.NoError(t, err)
	repo.armed = true

	out, err := f.svc.Resume(ctx, id)
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, out.Transaction.ID)

	tx, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
}
