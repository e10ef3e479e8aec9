// Package repo ignore_security_alert_file SQL_INJECTION
package repo

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"outreach/config"
	"time"
)

type txKey struct{}

type TxService interface {
	RunTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewOrm(ctx context.Context, dbCfg config.Database) (*gorm.DB, error) {
	dialector, err := newDialector(dbCfg)
	if err != nil {
		return nil, err
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if dbCfg.ConnectRetrySeconds > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = time.Duration(dbCfg.ConnectRetrySeconds) * time.Second
		b = eb
	}

	var orm *gorm.DB
	if err := backoff.RetryNotify(func() error {
		var err error
		orm, err = gorm.Open(dialector, &gorm.Config{})
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Ctx(ctx).Warn().Msgf("open %s db failed, retry in %v, err: %v", dbCfg.Dialect, wait, err)
	}); err != nil {
		return nil, err
	}

	if dbCfg.AutoMigrate {
		if err := Migrate(orm); err != nil {
			return nil, err
		}
	}

	return orm, nil
}

func newDialector(dbCfg config.Database) (gorm.Dialector, error) {
	switch dbCfg.Dialect {
	case "", config.DialectMySQL:
		return mysql.Open(dbCfg.ToDSN()), nil
	case config.DialectPostgres:
		return postgres.Open(dbCfg.ToDSN()), nil
	case config.DialectSQLite:
		return sqlite.Open(dbCfg.ToDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported db dialect: %s", dbCfg.Dialect)
	}
}

func Migrate(orm *gorm.DB) error {
	return orm.AutoMigrate(
		new(Campaign),
		new(Message),
		new(Recipient),
		new(DeliveryLog),
	)
}

func CloseOrm(orm *gorm.DB) error {
	if orm != nil {
		sqlDB, err := orm.DB()
		if err != nil {
			return err
		}

		err = sqlDB.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type baseRepo struct {
	orm *gorm.DB
}

func NewTxService(orm *gorm.DB) TxService {
	return &baseRepo{orm: orm}
}

func (r *baseRepo) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.hasTx(ctx) {
		return fn(ctx)
	}

	return r.orm.Transaction(func(tx *gorm.DB) error {
		ctxWithTx := context.WithValue(ctx, txKey{}, tx)
		if err := fn(ctxWithTx); err != nil {
			return err
		}
		return nil
	})
}

func (r *baseRepo) getDb(ctx context.Context) *gorm.DB {
	db, ok := ctx.Value(txKey{}).(*gorm.DB)
	if !ok {
		db = r.orm
	}
	return db.WithContext(ctx)
}

func (r *baseRepo) hasTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}
