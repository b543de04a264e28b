package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core/fee"
)

func newCommit(studentID, receipt string, expected int, paid int64) fee.Commit {
	now := time.Now().UTC()
	p := fee.Period{Year: 2024, Month: fee.March}
	return fee.Commit{
		ExpectedVersion: expected,
		Record: fee.Record{
			StudentID: studentID, Year: p.Year, Month: p.Month, MonthlyFee: 500, PaidAmount: paid,
			BalanceDue: 500 - paid, Status: fee.StatusUnpaid, ReceiptNumber: receipt, Version: expected + 1, UpdatedAt: now,
		},
		Entry: fee.HistoryEntry{
			ReceiptNumber: receipt, StudentID: studentID, Year: p.Year, Month: p.Month, MonthlyFee: 500,
			TotalDue: 500, PaidAmount: paid, BalanceDue: 500 - paid, Status: fee.StatusUnpaid, UpdatedAt: now,
		},
	}
}

func TestFeeRepository_CommitSettlement(t *testing.T) {
	ctx := context.Background()
	db, err := Open()
	require.NoError(t, err)
	repo := NewFeeRepository(db)
	march := fee.Period{Year: 2024, Month: fee.March}

	e1, err := repo.CommitSettlement(ctx, newCommit("s1", "R1", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.Seq)

	tests := []struct {
		name    string
		commit  fee.Commit
		wantErr error
	}{
		{name: "record already exists", commit: newCommit("s1", "R2", 0, 200), wantErr: fee.ErrVersionConflict},
		{name: "stale version", commit: newCommit("s1", "R2", 2, 200), wantErr: fee.ErrVersionConflict},
		{name: "receipt taken", commit: newCommit("s1", "R1", 1, 200), wantErr: fee.ErrReceiptExists},
		{name: "missing record expected", commit: newCommit("s2", "R3", 1, 200), wantErr: fee.ErrVersionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CommitSettlement(ctx, tt.commit)
			assert.Equal(t, tt.wantErr, err)

			// neither write was applied
			rec, err := repo.GetRecord(ctx, "s1", march)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Version)
			history, err := repo.ListHistory(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, history, 1)
		})
	}

	e2, err := repo.CommitSettlement(ctx, newCommit("s1", "R2", 1, 200))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Seq)

	rec, err := repo.GetRecord(ctx, "s1", march)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, "R2", rec.ReceiptNumber)

	history, err := repo.ListHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "R1", history[0].ReceiptNumber)
	assert.Equal(t, "R2", history[1].ReceiptNumber)

	got, err := repo.GetHistoryEntry(ctx, "s1", "R1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.PaidAmount)
	_, err = repo.GetHistoryEntry(ctx, "s2", "R1")
	assert.Equal(t, fee.ErrReceiptNotFound, err)

	exists, err := repo.ReceiptExists(ctx, "R2")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.GetRecord(ctx, "s1", march.Prev())
	assert.Equal(t, fee.ErrRecordNotFound, err)
}
