package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/feeledger/core/fee"
)

type feeRepository struct {
	db *ledgerTable
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db *DB) *feeRepository {
	return &feeRepository{db: db.ledger}
}

func (repo *feeRepository) SetMonthlyFee(_ context.Context, cf fee.ClassFee) (fee.ClassFee, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.schedule[cf.ClassID] = cf
	return cf, nil
}

func (repo *feeRepository) GetMonthlyFee(_ context.Context, classID string) (fee.ClassFee, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cf, ok := repo.db.schedule[classID]; ok {
		return cf, nil
	}
	return fee.ClassFee{}, fee.ErrScheduleNotFound
}

func (repo *feeRepository) ListSchedule(_ context.Context) ([]fee.ClassFee, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	schedule := make([]fee.ClassFee, 0, len(repo.db.schedule))
	for _, cf := range repo.db.schedule {
		schedule = append(schedule, cf)
	}
	sort.Slice(schedule, func(i, j int) bool { return schedule[i].ClassID < schedule[j].ClassID })
	return schedule, nil
}

func (repo *feeRepository) GetRecord(_ context.Context, studentID string, p fee.Period) (fee.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.records[recordKey{studentID, p}]; ok {
		return rec, nil
	}
	return fee.Record{}, fee.ErrRecordNotFound
}

func (repo *feeRepository) CommitSettlement(_ context.Context, c fee.Commit) (fee.HistoryEntry, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := recordKey{c.Record.StudentID, c.Record.Period()}
	current, exists := repo.db.records[key]
	switch {
	case !exists && c.ExpectedVersion != 0,
		exists && current.Version != c.ExpectedVersion:
		return fee.HistoryEntry{}, fee.ErrVersionConflict
	}
	if _, taken := repo.db.receipts[c.Entry.ReceiptNumber]; taken {
		return fee.HistoryEntry{}, fee.ErrReceiptExists
	}

	repo.db.seq++
	entry := c.Entry
	entry.Seq = repo.db.seq
	repo.db.records[key] = c.Record
	repo.db.receipts[entry.ReceiptNumber] = len(repo.db.history)
	repo.db.history = append(repo.db.history, entry)
	return entry, nil
}

func (repo *feeRepository) ListHistory(_ context.Context, studentID string) ([]fee.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var entries []fee.HistoryEntry
	for _, e := range repo.db.history {
		if e.StudentID == studentID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (repo *feeRepository) GetHistoryEntry(_ context.Context, studentID, receiptNumber string) (fee.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if idx, ok := repo.db.receipts[receiptNumber]; ok {
		if e := repo.db.history[idx]; e.StudentID == studentID {
			return e, nil
		}
	}
	return fee.HistoryEntry{}, fee.ErrReceiptNotFound
}

func (repo *feeRepository) ReceiptExists(_ context.Context, receiptNumber string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	_, ok := repo.db.receipts[receiptNumber]
	return ok, nil
}
