/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package idempotency is the execution ledger the Event Trigger consults
// before starting an orchestrator run: a CardCreated event's timestamp-based
// id doubles as the requestId and the idempotency key, so a duplicate
// delivery of the same event is discarded rather than re-run (spec.md §4.7,
// §8 property 4).
package idempotency

import (
	"context"
	"database/sql"
	"embed"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger claims requestIds exactly once. It is built on database/sql
// (through the registered "pgx" driver, rather than pgx's native pool)
// so its queries can be exercised against a github.com/DATA-DOG/go-sqlmock
// connection in unit tests without a live Postgres instance.
type Ledger struct {
	db *sql.DB
}

// NewLedger connects to cfg's database and applies any pending migrations.
func NewLedger(ctx context.Context, cfg config.IdempotencyConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, appErrors.New(appErrors.ErrorTypeValidation, "idempotency DSN must not be empty")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "opening idempotency ledger")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "pinging idempotency ledger")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return newLedger(db), nil
}

// newLedger wraps an already-open *sql.DB (a live "pgx" connection in
// production, a github.com/DATA-DOG/go-sqlmock connection in tests).
func newLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.Up(db, "migrations"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "applying idempotency ledger migrations")
	}
	return nil
}

// Close releases the underlying connection.
func (l *Ledger) Close() {
	l.db.Close()
}

// Claim attempts to reserve requestID for (ownerID, cardID). It reports
// true when this call is the first to claim requestID (the execution
// should proceed) and false when a prior claim already exists (the event
// is a duplicate and must be discarded).
func (l *Ledger) Claim(ctx context.Context, requestID, ownerID, cardID string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`INSERT INTO execution_ledger (request_id, owner_id, card_id, claimed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (request_id) DO NOTHING`,
		requestID, ownerID, cardID, time.Now())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "claiming requestId")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "reading claim result")
	}
	return rows == 1, nil
}

// IsClaimed reports whether requestID has already been claimed, without
// attempting to claim it.
func (l *Ledger) IsClaimed(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM execution_ledger WHERE request_id = $1)`, requestID).Scan(&exists)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "checking requestId claim")
	}
	return exists, nil
}
