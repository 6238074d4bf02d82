package state

import (
	"context"
	"fmt"
	"os"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/model"
	"github.com/discord-net/dgate/sqlutil"
	"github.com/discord-net/dgate/state/migrations"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// PostgresStore is a Postgres backed caches.RawStore. Every partition of every kind lives in one table.
type PostgresStore struct {
	DB          *sqlx.DB
	ModelsTable *ModelsTable
}

var _ caches.RawStore = (*PostgresStore)(nil)

// NewPostgresStore connects to postgresURI, creates the tables and runs pending migrations.
func NewPostgresStore(ctx context.Context, postgresURI string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach SQL DB: %w", err)
	}
	return NewPostgresStoreWithDB(ctx, db)
}

func NewPostgresStoreWithDB(ctx context.Context, db *sqlx.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		DB:          db,
		ModelsTable: NewModelsTable(db),
	}
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(gooseLogger{})
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Teardown() {
	if err := s.DB.Close(); err != nil {
		logger.Err(err).Msg("failed to close SQL DB")
	}
}

func (s *PostgresStore) Upsert(ctx context.Context, p caches.Partition, id model.Snowflake, data []byte) error {
	return sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		return s.ModelsTable.Upsert(txn, p, id, data)
	})
}

func (s *PostgresStore) Get(ctx context.Context, p caches.Partition, id model.Snowflake) (data []byte, ok bool, err error) {
	err = sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		data, ok, err = s.ModelsTable.Select(txn, p, id, false)
		return err
	})
	return
}

func (s *PostgresStore) Remove(ctx context.Context, p caches.Partition, id model.Snowflake) (data []byte, ok bool, err error) {
	err = sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		data, ok, err = s.ModelsTable.Delete(txn, p, id)
		return err
	})
	return
}

func (s *PostgresStore) QueryRange(ctx context.Context, p caches.Partition, from model.Snowflake, dir caches.Direction, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	var result [][]byte
	err := sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		switch dir {
		case caches.Before:
			rows, err := s.ModelsTable.SelectBefore(txn, p, from, limit)
			result = rowData(rows)
			return err
		case caches.After:
			rows, err := s.ModelsTable.SelectAfter(txn, p, from, limit, false)
			result = rowData(rows)
			return err
		case caches.Around:
			anchor, found, err := s.ModelsTable.Select(txn, p, from, false)
			if err != nil {
				return err
			}
			rest := limit
			if found {
				rest--
			}
			before, err := s.ModelsTable.SelectBefore(txn, p, from, rest/2)
			if err != nil {
				return err
			}
			after, err := s.ModelsTable.SelectAfter(txn, p, from, rest-rest/2, false)
			if err != nil {
				return err
			}
			result = rowData(before)
			if found {
				result = append(result, anchor)
			}
			result = append(result, rowData(after)...)
			return nil
		}
		return caches.ErrInvalidDirection
	})
	return result, err
}

func (s *PostgresStore) All(ctx context.Context, p caches.Partition) (result [][]byte, err error) {
	err = sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		rows, err := s.ModelsTable.SelectAll(txn, p)
		result = rowData(rows)
		return err
	})
	return
}

func (s *PostgresStore) Update(ctx context.Context, p caches.Partition, id model.Snowflake, fn func(data []byte, ok bool) ([]byte, bool, error)) error {
	return sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		if err := s.ModelsTable.Lock(txn, p, id); err != nil {
			return err
		}
		data, ok, err := s.ModelsTable.Select(txn, p, id, true)
		if err != nil {
			return err
		}
		next, keep, err := fn(data, ok)
		if err != nil {
			return err
		}
		if keep {
			return s.ModelsTable.Upsert(txn, p, id, next)
		}
		if ok {
			_, _, err = s.ModelsTable.Delete(txn, p, id)
		}
		return err
	})
}

func (s *PostgresStore) Count(ctx context.Context, p caches.Partition) (count int, err error) {
	err = sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		count, err = s.ModelsTable.Count(txn, p)
		return err
	})
	return
}

func (s *PostgresStore) Clear(ctx context.Context, p caches.Partition) error {
	return sqlutil.WithTransaction(ctx, s.DB, func(txn *sqlx.Tx) error {
		n, err := s.ModelsTable.DeletePartition(txn, p)
		if err == nil && n > 0 {
			logger.Debug().Str("partition", p.String()).Int64("rows", n).Msg("cleared partition")
		}
		return err
	})
}

// gooseLogger routes migration output through zerolog.
type gooseLogger struct{}

func (gooseLogger) Fatal(v ...interface{}) { logger.Fatal().Msg(fmt.Sprint(v...)) }
func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logger.Fatal().Msgf(format, v...)
}
func (gooseLogger) Print(v ...interface{}) { logger.Info().Msg(fmt.Sprint(v...)) }
func (gooseLogger) Println(v ...interface{}) {
	logger.Info().Msg(fmt.Sprint(v...))
}
func (gooseLogger) Printf(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}
