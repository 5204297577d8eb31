package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store useful for tests and local runs.
// It is not intended for production use: its mutex does not coordinate multiple instances.
type MemoryStore struct {
	mu       sync.Mutex
	wallets  map[string]*Wallet
	postings map[string]storedPosting
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:  make(map[string]*Wallet),
		postings: make(map[string]storedPosting),
		clock:    time.Now,
	}
}

// Seed opens a wallet with an initial balance, bypassing postings. Test helper.
func (s *MemoryStore) Seed(userID string, balance decimal.Decimal) Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.openLocked(userID)
	w.Balance = balance
	return *w
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (s *MemoryStore) Open(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.openLocked(userID), nil
}

func (s *MemoryStore) Credit(ctx context.Context, p Posting) (PostingResult, error) {
	return s.post(DirectionCredit, p)
}

func (s *MemoryStore) Debit(ctx context.Context, p Posting) (PostingResult, error) {
	return s.post(DirectionDebit, p)
}

func (s *MemoryStore) post(d Direction, p Posting) (PostingResult, error) {
	if err := validatePosting(p); err != nil {
		return PostingResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.postings[p.Reference]; ok {
		return existing.replay(d, p)
	}
	w, ok := s.wallets[p.UserID]
	if !ok {
		return PostingResult{}, ErrWalletNotFound
	}

	prev := w.Balance
	next := prev.Add(p.Amount)
	if d == DirectionDebit {
		if prev.LessThan(p.Amount) {
			return PostingResult{}, &InsufficientBalanceError{Balance: prev, Required: p.Amount}
		}
		next = prev.Sub(p.Amount)
	}

	now := s.clock().UTC()
	w.Balance = next
	if d == DirectionCredit && p.CountsAsDeposit {
		w.Stats.TotalDeposits = w.Stats.TotalDeposits.Add(p.Amount)
		w.Stats.DepositCount++
	}
	w.LastTransactionDate = &now
	w.UpdatedAt = now

	res := PostingResult{WalletID: w.ID, PreviousBalance: prev, NewBalance: next, Applied: true}
	s.postings[p.Reference] = storedPosting{
		Reference: p.Reference,
		WalletID:  w.ID,
		UserID:    p.UserID,
		Direction: d,
		Amount:    p.Amount,
		Result:    res,
	}
	return res, nil
}

func (s *MemoryStore) openLocked(userID string) *Wallet {
	if w, ok := s.wallets[userID]; ok {
		return w
	}
	now := s.clock().UTC()
	w := &Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Stats:     Stats{TotalDeposits: decimal.Zero},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[userID] = w
	return w
}
