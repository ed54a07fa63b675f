/**
 * @description
 * Asset ledger abstractions used by the savings engines. Every engine holds funds in its
 * own custody account; members pay in with TransferFrom and are paid with Transfer.
 *
 * Key features:
 * - Bank is the wallet store (in-memory here, SQL-backed in the store package).
 * - CustodyLedger binds a Bank to one custody address.
 * - settlement tracks the transfers of one operation so a failed operation can be
 *   compensated instead of leaving funds stranded.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/circlepot/rosca-service/internal/domain"
)

// AssetLedger moves value between participants and an engine's custody account.
type AssetLedger interface {
	// TransferFrom pulls amount from payer into custody.
	TransferFrom(ctx context.Context, payer domain.Address, amount int64) error
	// Transfer pays amount out of custody to payee.
	Transfer(ctx context.Context, payee domain.Address, amount int64) error
	BalanceOf(ctx context.Context, holder domain.Address) (int64, error)
}

// Bank stores wallet balances.
type Bank interface {
	Move(ctx context.Context, from, to domain.Address, amount int64) error
	Balance(ctx context.Context, holder domain.Address) (int64, error)
	Deposit(ctx context.Context, holder domain.Address, amount int64) error
}

// CustodyLedger is an AssetLedger whose custody account lives in a Bank.
type CustodyLedger struct {
	bank    Bank
	custody domain.Address
}

func NewCustodyLedger(bank Bank, custody domain.Address) *CustodyLedger {
	return &CustodyLedger{bank: bank, custody: custody}
}

func (l *CustodyLedger) Custody() domain.Address { return l.custody }

func (l *CustodyLedger) TransferFrom(ctx context.Context, payer domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return l.bank.Move(ctx, payer, l.custody, amount)
}

func (l *CustodyLedger) Transfer(ctx context.Context, payee domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return l.bank.Move(ctx, l.custody, payee, amount)
}

func (l *CustodyLedger) BalanceOf(ctx context.Context, holder domain.Address) (int64, error) {
	return l.bank.Balance(ctx, holder)
}

// MemoryBank is a Bank kept in process memory.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[domain.Address]int64
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[domain.Address]int64)}
}

func (b *MemoryBank) Move(ctx context.Context, from, to domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

func (b *MemoryBank) Balance(ctx context.Context, holder domain.Address) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[holder], nil
}

func (b *MemoryBank) Deposit(ctx context.Context, holder domain.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[holder] += amount
	return nil
}

type transfer struct {
	addr   domain.Address
	amount int64
}

// settlement records the value movements of a single operation. Inflows run eagerly,
// outflows are queued and only executed once the new state has been committed.
type settlement struct {
	ledger  AssetLedger
	logger  *slog.Logger
	metrics *Metrics
	engine  string

	inflows  []transfer
	outflows []transfer
}

func (s *settlement) collect(ctx context.Context, from domain.Address, amount int64) error {
	if err := s.ledger.TransferFrom(ctx, from, amount); err != nil {
		return transferError(err)
	}
	s.inflows = append(s.inflows, transfer{addr: from, amount: amount})
	s.metrics.observeValue(s.engine, "in", amount)
	return nil
}

func (s *settlement) queue(to domain.Address, amount int64) {
	if amount <= 0 {
		return
	}
	s.outflows = append(s.outflows, transfer{addr: to, amount: amount})
}

// payOut executes the queued outflows. When one fails, the outflows already paid are
// pulled back so the caller can restore the previous state.
func (s *settlement) payOut(ctx context.Context) error {
	for i, out := range s.outflows {
		if err := s.ledger.Transfer(ctx, out.addr, out.amount); err != nil {
			s.logger.Error("payout failed, reversing earlier payouts", "engine", s.engine, "payee", out.addr, "amount", out.amount, "error", err)
			for j := i - 1; j >= 0; j-- {
				paid := s.outflows[j]
				if rerr := s.ledger.TransferFrom(ctx, paid.addr, paid.amount); rerr != nil {
					s.logger.Error("failed to reverse payout", "engine", s.engine, "payee", paid.addr, "amount", paid.amount, "error", rerr)
				}
			}
			return fmt.Errorf("failed to pay %d to %s: %w", out.amount, out.addr, transferError(err))
		}
	}
	for _, out := range s.outflows {
		s.metrics.observeValue(s.engine, "out", out.amount)
	}
	return nil
}

// compensate returns every collected inflow to its payer.
func (s *settlement) compensate(ctx context.Context) {
	for i := len(s.inflows) - 1; i >= 0; i-- {
		in := s.inflows[i]
		if err := s.ledger.Transfer(ctx, in.addr, in.amount); err != nil {
			s.logger.Error("failed to refund collected amount", "engine", s.engine, "payer", in.addr, "amount", in.amount, "error", err)
			continue
		}
		s.metrics.observeValue(s.engine, "refund", in.amount)
	}
	s.inflows = nil
}

// transferError keeps ledger resource errors and folds anything else into ErrTransferFailed.
func transferError(err error) error {
	if domain.KindOf(err) == domain.KindResource || domain.KindOf(err) == domain.KindValidation {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
}
