package dig_container

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/feeledger/apps/api/echo"
	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/student"
	emailsvc "github.com/trezcool/feeledger/services/email"
	logsvc "github.com/trezcool/feeledger/services/logger"
	metricsvc "github.com/trezcool/feeledger/services/metrics"
	rediscache "github.com/trezcool/feeledger/storage/cache/redis"
	"github.com/trezcool/feeledger/storage/database"
	inmemdb "github.com/trezcool/feeledger/storage/database/inmem"
	sqlxrepos "github.com/trezcool/feeledger/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Stores are the ledger and directory repositories. DB is nil with in-memory storage.
	Stores struct {
		dig.Out
		DB       core.DB
		Fees     fee.Repository
		Students student.Repository
	}

	FeeServiceParams struct {
		dig.In
		Conf     *core.Config
		Logger   core.Logger
		Fees     fee.Repository
		Students student.Repository
		Mail     core.EmailService
		Cache    fee.ReceiptCache
		Observer fee.Observer
	}

	ServerParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		FeeSvc     *fee.Service
		Students   student.Repository
	}
)

func newZap(conf *core.Config) *zap.Logger {
	logger, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("building zap logger: %v", err)
	}
	return logger
}

func newLogger(conf *core.Config, std *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(std.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config, std *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(std.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) Stores {
	if conf.Ledger.Storage == "memory" {
		db, err := inmemdb.Open()
		if err != nil {
			loggerParam.Logger.Fatal(fmt.Sprintf("opening in-memory storage: %v", err), err)
		}
		return Stores{
			Fees:     inmemdb.NewFeeRepository(db),
			Students: inmemdb.NewStudentRepository(db),
		}
	}

	setUp := func() (core.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db.DB, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Stores{
		DB:       db,
		Fees:     sqlxrepos.NewFeeRepository(db),
		Students: sqlxrepos.NewStudentRepository(db),
	}
}

// newReceiptCache returns nil (no cache) when redis is not configured or not reachable.
func newReceiptCache(conf *core.Config, logger core.Logger) fee.ReceiptCache {
	if conf.Redis.Addr == "" {
		return nil
	}
	cache, err := rediscache.Open(context.Background(), conf)
	if err != nil {
		logger.Warn(fmt.Sprintf("receipt cache disabled: %v", err), err)
		return nil
	}
	return cache
}

func newObserver() fee.Observer {
	return metricsvc.NewLedgerObserver(prometheus.DefaultRegisterer)
}

func newFeeService(p FeeServiceParams) *fee.Service {
	return fee.NewService(fee.Deps{
		Repo:     p.Fees,
		Students: p.Students,
		Mail:     p.Mail,
		Cache:    p.Cache,
		Observer: p.Observer,
		Logger:   p.Logger,
		Conf:     p.Conf,
	})
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Deps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		FeeSvc:     p.FeeSvc,
		Students:   p.Students,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(newReceiptCache))
	must(c.Provide(newObserver))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newFeeService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
