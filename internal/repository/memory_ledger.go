package repository

import (
	"context"
	"sync"
	"time"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

var (
	_ domain.AccountRepository   = (*MemoryLedger)(nil)
	_ domain.StatementRepository = (*MemoryStatements)(nil)
)

type ledgerEntry struct {
	mu      sync.Mutex
	account domain.Account
}

// MemoryLedger keeps accounts in process. Each client has its own lock, held
// only while a mutation runs, so clients never wait on each other.
type MemoryLedger struct {
	mu         sync.RWMutex
	accounts   map[int64]*ledgerEntry
	references map[string]int64
	nextID     int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:   make(map[int64]*ledgerEntry),
		references: make(map[string]int64),
	}
}

func (l *MemoryLedger) CreateAccount(_ context.Context, account *domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[account.ClientID]; ok {
		return errors.ErrDuplicateAccount
	}
	l.nextID++
	account.AccountID = l.nextID
	if account.CreatedDate.IsZero() {
		account.CreatedDate = time.Now().UTC()
	}
	l.accounts[account.ClientID] = &ledgerEntry{account: *account}
	return nil
}

func (l *MemoryLedger) entry(clientID int64) (*ledgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.accounts[clientID]
	return e, ok
}

func (l *MemoryLedger) GetAccount(_ context.Context, clientID int64) (*domain.Account, error) {
	e, ok := l.entry(clientID)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	account := e.account
	return &account, nil
}

func (l *MemoryLedger) UpdateBalance(ctx context.Context, clientID int64, reference string, mutate domain.BalanceMutation) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "balance update cancelled", err)
	}
	e, ok := l.entry(clientID)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if reference != "" {
		l.mu.RLock()
		owner := l.references[reference]
		l.mu.RUnlock()

		switch owner {
		case 0:
		case clientID:
			account := e.account
			return &account, nil
		default:
			return nil, errors.ErrDuplicateReference
		}
	}

	newBalance, err := mutate(e.account)
	if err != nil {
		return nil, err
	}

	if reference != "" {
		l.mu.Lock()
		if owner, taken := l.references[reference]; taken && owner != clientID {
			l.mu.Unlock()
			return nil, errors.ErrDuplicateReference
		}
		l.references[reference] = clientID
		l.mu.Unlock()
	}

	e.account.Balance = newBalance
	account := e.account
	return &account, nil
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

// MemoryStatements keeps generated statements in process.
type MemoryStatements struct {
	mu    sync.Mutex
	files []domain.StatementFile
}

func NewMemoryStatements() *MemoryStatements {
	return &MemoryStatements{}
}

func (s *MemoryStatements) SaveStatement(_ context.Context, file *domain.StatementFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file.FileID = int64(len(s.files) + 1)
	if file.CreatedDate.IsZero() {
		file.CreatedDate = time.Now().UTC()
	}
	s.files = append(s.files, *file)
	return nil
}

// Files returns the statements saved so far.
func (s *MemoryStatements) Files() []domain.StatementFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StatementFile(nil), s.files...)
}
