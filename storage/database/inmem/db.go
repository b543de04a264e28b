package inmemdb

import (
	"sync"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/student"
)

type (
	// DB is a process-local store. Each table has its own lock; the ledger tables share one so a
	// settlement's record overwrite and history append are applied together.
	DB struct {
		student *studentTable
		ledger  *ledgerTable
	}

	studentTable struct {
		sync.RWMutex
		table map[string]*student.Student
	}

	recordKey struct {
		studentID string
		period    fee.Period
	}

	ledgerTable struct {
		sync.RWMutex
		schedule map[string]fee.ClassFee
		records  map[recordKey]fee.Record
		history  []fee.HistoryEntry // commit order
		receipts map[string]int     // receipt number -> index in history
		seq      int64
	}
)

func Open() (*DB, error) {
	db := &DB{
		student: &studentTable{table: make(map[string]*student.Student)},
		ledger: &ledgerTable{
			schedule: make(map[string]fee.ClassFee),
			records:  make(map[recordKey]fee.Record),
			receipts: make(map[string]int),
		},
	}
	return db, nil
}
