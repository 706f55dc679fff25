package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/conorfennell/dailyreview/internal/config"
)

// OpenPostgres connects to cfg.DSN.
func OpenPostgres(ctx context.Context, cfg config.StorageConfig) (*SQLStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectPostgres, "postgres"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: postgresDialect}, nil
}

const (
	pqForeignKeyViolation pq.ErrorCode = "23503"
	pqUniqueViolation     pq.ErrorCode = "23505"
)

var postgresDialect = dialect{
	name:   "postgres",
	rebind: rebindDollar,
	isUnique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
	},
	isForeignKey: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
	},
}

// rebindDollar rewrites ? placeholders as $1, $2, ... Queries in this package
// never contain a literal question mark.
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
