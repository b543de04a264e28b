package testutil

import (
	"context"
	"net/mail"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/student"
	logsvc "github.com/trezcool/feeledger/services/logger"
	"github.com/trezcool/feeledger/storage/database"
)

// NewConfig returns a test configuration that never touches the environment.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "FeeLedger",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "FeeLedger", Address: "noreply@feeledger.test"},
		Server: core.ServerConfig{
			Host:            "localhost",
			Address:         ":0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			DisableReqLogs:  true,
		},
		Redis: core.RedisConfig{ReceiptTTL: time.Hour},
		Ledger: core.LedgerConfig{
			InstitutePrefix:  "FL",
			MaxCommitRetries: 5,
			Storage:          "memory",
		},
	}
}

// NewLogger returns a silent logger with rollbar reporting disabled.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)
	logger.Enable(false)
	return logger
}

// PrepareDB connects to the database named by TEST_DATABASE_URL, migrates it and empties the
// ledger tables. The test is skipped when the variable is not set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.ExecContext(context.Background(),
		"TRUNCATE fee_history, fee_records, class_fees, students RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func CreateStudent(t *testing.T, repo student.Repository, name, classID, rollNo string, email ...string) student.Student {
	t.Helper()

	st := student.Student{
		Name:      name,
		ClassID:   classID,
		RollNo:    rollNo,
		Address:   "12 Lake Road",
		CreatedAt: time.Now().UTC(),
	}
	if len(email) > 0 {
		st.Email = email[0]
	}
	st, err := repo.CreateStudent(context.Background(), st)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return st
}
