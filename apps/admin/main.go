package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/student"
	emailsvc "github.com/trezcool/feeledger/services/email"
	logsvc "github.com/trezcool/feeledger/services/logger"
	"github.com/trezcool/feeledger/storage/database"
	inmemdb "github.com/trezcool/feeledger/storage/database/inmem"
	sqlxrepos "github.com/trezcool/feeledger/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	std, err := logsvc.NewZap(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(std.Named("admin"), conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	fee.InitValidators(validate, translator)

	cli := commandLine{
		validate: validate,
		in:       os.Stdin,
		out:      os.Stdout,
	}

	var (
		fees     fee.Repository
		students student.Repository
	)
	if conf.Ledger.Storage == "memory" {
		db, err := inmemdb.Open()
		errAndDie(logger, err)
		cli.ephemeral = true
		fees, students = inmemdb.NewFeeRepository(db), inmemdb.NewStudentRepository(db)
	} else {
		db, err := database.Open(conf)
		errAndDie(logger, err)
		defer func() { _ = db.Close() }()

		cli.db = db.DB
		fees, students = sqlxrepos.NewFeeRepository(db), sqlxrepos.NewStudentRepository(db)
	}

	cli.students = students
	cli.feeSvc = fee.NewService(fee.Deps{
		Repo:     fees,
		Students: students,
		Mail:     emailsvc.NewService(conf, logger),
		Logger:   logger,
		Conf:     conf,
	})

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		logger.Sync()
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
