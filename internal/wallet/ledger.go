package wallet

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// Ref ties a wallet transaction to the event or booking that caused it.
// An empty ReferenceID gets a generated EVNT reference.
type Ref struct {
	EventID     *uuid.UUID
	BookingID   *uuid.UUID
	ReferenceID string
}

type Ledger struct {
	store  domain.Store
	hooks  domain.Hook
	logger observability.Logger
	now    func() time.Time
}

func NewLedger(store domain.Store, hooks domain.Hook, logger observability.Logger) *Ledger {
	if hooks == nil {
		hooks = domain.NopHook{}
	}
	return &Ledger{store: store, hooks: hooks, logger: logger, now: time.Now}
}

func (l *Ledger) Credit(ctx context.Context, tx domain.Tx, kind domain.WalletKind, owner uuid.UUID, amount int64, ref Ref) (domain.WalletTransaction, error) {
	return l.post(ctx, tx, kind, owner, domain.TxCredit, amount, ref)
}

func (l *Ledger) Debit(ctx context.Context, tx domain.Tx, kind domain.WalletKind, owner uuid.UUID, amount int64, ref Ref) (domain.WalletTransaction, error) {
	return l.post(ctx, tx, kind, owner, domain.TxDebit, amount, ref)
}

func (l *Ledger) Refund(ctx context.Context, tx domain.Tx, kind domain.WalletKind, owner uuid.UUID, amount int64, ref Ref) (domain.WalletTransaction, error) {
	return l.post(ctx, tx, kind, owner, domain.TxRefund, amount, ref)
}

// post appends one transaction and moves the cached balance by its signed
// amount, both inside tx.
func (l *Ledger) post(ctx context.Context, tx domain.Tx, kind domain.WalletKind, owner uuid.UUID, typ domain.TransactionType, amount int64, ref Ref) (domain.WalletTransaction, error) {
	if amount <= 0 {
		return domain.WalletTransaction{}, domain.ErrInvalidInput.WithMessagef("%s amount must be positive, got %d", typ, amount)
	}

	w, err := tx.OpenWallet(ctx, kind, owner)
	if err != nil {
		return domain.WalletTransaction{}, errors.Wrap(err, "open wallet")
	}

	t := domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		EventID:     ref.EventID,
		BookingID:   ref.BookingID,
		Amount:      amount,
		Type:        typ,
		ReferenceID: ref.ReferenceID,
		CreatedAt:   l.now(),
	}
	if t.ReferenceID == "" {
		t.ReferenceID = domain.NewReferenceID()
	}

	next := w.Balance + t.Signed()
	if next < 0 {
		if typ == domain.TxDebit {
			return domain.WalletTransaction{}, domain.ErrInsufficientFunds.WithMessagef("wallet balance %d is below %d", w.Balance, amount)
		}
		return domain.WalletTransaction{}, l.integrity(w, t, "transaction would drive balance negative")
	}

	if err := tx.InsertWalletTransaction(ctx, t); err != nil {
		return domain.WalletTransaction{}, errors.Wrap(err, "insert wallet transaction")
	}
	if err := tx.SetWalletBalance(ctx, w.ID, next); err != nil {
		return domain.WalletTransaction{}, errors.Wrap(err, "set wallet balance")
	}
	return t, nil
}

// CreditCompany appends a platform fee entry to the company ledger and
// advances its running total under the aggregate row lock.
func (l *Ledger) CreditCompany(ctx context.Context, tx domain.Tx, eventID uuid.UUID, amount int64) (domain.CompanyLedgerEntry, error) {
	if amount <= 0 {
		return domain.CompanyLedgerEntry{}, domain.ErrInvalidInput.WithMessagef("company credit must be positive, got %d", amount)
	}
	agg, err := tx.LockCompanyLedger(ctx)
	if err != nil {
		return domain.CompanyLedgerEntry{}, errors.Wrap(err, "lock company ledger")
	}

	id := eventID
	e := domain.CompanyLedgerEntry{
		ID:           uuid.New(),
		EventID:      &id,
		Amount:       amount,
		Type:         domain.TxCredit,
		TotalBalance: agg.TotalBalance + amount,
		ReferenceID:  domain.FeeReference(eventID.String()),
		CreatedAt:    l.now(),
	}
	if err := tx.AppendCompanyEntry(ctx, e); err != nil {
		return domain.CompanyLedgerEntry{}, errors.Wrap(err, "append company entry")
	}
	return e, nil
}

// WithdrawAll empties an organizer wallet into a single WITHDRAWAL.
func (l *Ledger) WithdrawAll(ctx context.Context, organizerID uuid.UUID) (domain.WalletTransaction, error) {
	var out domain.WalletTransaction
	var change domain.Change
	err := l.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		w, err := tx.OpenWallet(ctx, domain.WalletOrganizer, organizerID)
		if err != nil {
			return err
		}
		if w.Balance <= 0 {
			return domain.ErrNothingToWithdraw
		}
		t, err := l.post(ctx, tx, domain.WalletOrganizer, organizerID, domain.TxWithdrawal, w.Balance, Ref{})
		if err != nil {
			return err
		}
		change = domain.Change{
			Type:          domain.ChangeWalletWithdrawn,
			AggregateType: "wallet_transaction",
			AggregateID:   t.ID,
			UserID:        organizerID,
			Data: map[string]interface{}{
				"amount":       t.Amount,
				"reference_id": t.ReferenceID,
			},
			At: t.CreatedAt,
		}
		out = t
		return domain.RecordChanges(ctx, tx, change)
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}

	if err := l.hooks.AfterCommit(context.WithoutCancel(ctx), []domain.Change{change}); err != nil {
		l.logger.WithError(err).Warn("post-commit hooks failed after withdrawal")
	}
	return out, nil
}

// Balance returns the wallet, or an empty one for owners who never transacted.
func (l *Ledger) Balance(ctx context.Context, kind domain.WalletKind, owner uuid.UUID) (domain.Wallet, error) {
	w, err := l.store.GetWallet(ctx, kind, owner)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return domain.Wallet{Kind: kind, OwnerID: owner}, nil
	}
	return w, err
}

func (l *Ledger) Transactions(ctx context.Context, kind domain.WalletKind, owner uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	w, err := l.store.GetWallet(ctx, kind, owner)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.store.ListWalletTransactions(ctx, w.ID, limit, offset)
}

// Verify checks the cached balance against the transaction log.
func (l *Ledger) Verify(ctx context.Context, kind domain.WalletKind, owner uuid.UUID) error {
	w, err := l.store.GetWallet(ctx, kind, owner)
	if err != nil {
		return err
	}
	sum, err := l.store.SumWalletTransactions(ctx, w.ID)
	if err != nil {
		return err
	}
	if sum != w.Balance {
		return l.integrity(w, domain.WalletTransaction{Amount: sum}, "cached balance differs from transaction log")
	}
	return nil
}

func (l *Ledger) integrity(w domain.Wallet, t domain.WalletTransaction, msg string) error {
	observability.IntegrityViolations.Inc()
	l.logger.
		WithField("wallet_id", w.ID).
		WithField("wallet_kind", w.Kind).
		WithField("balance", w.Balance).
		WithField("amount", t.Amount).
		WithField("type", t.Type).
		Error(msg)
	return errors.Wrapf(domain.ErrIntegrityViolation, "wallet %s: %s", w.ID, msg)
}
