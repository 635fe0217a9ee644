// Package journal persists every move the actuator service applies.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/robot"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a sqlite-backed move journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the journal at path and migrates it to the latest
// schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	m.Log = &migrateLogger{logger: s.logger}
	// m is not closed: that would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMove implements actuator.Recorder.
func (s *Store) RecordMove(ctx context.Context, m actuator.Move) error {
	created := m.Start
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moves (move_id, requested, applied, result, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		m.Requested.String(),
		m.Applied.String(),
		m.Result.String(),
		m.Duration.Milliseconds(),
		created.UnixMilli(),
	)
	return errors.Wrap(err, "insert move")
}

// RecentMoves implements actuator.History.
func (s *Store) RecentMoves(ctx context.Context, limit int) ([]actuator.MoveRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT move_id, requested, applied, result, duration_ms, created_at
		 FROM moves ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query moves")
	}
	defer rows.Close()

	var moves []actuator.MoveRecord
	for rows.Next() {
		var (
			rec                        actuator.MoveRecord
			requested, applied, result string
			created                    int64
		)
		if err := rows.Scan(&rec.ID, &requested, &applied, &result, &rec.DurationMs, &created); err != nil {
			return nil, errors.Wrap(err, "scan move")
		}
		if rec.Requested, err = robot.ParseAngles(requested); err != nil {
			return nil, errors.Wrapf(err, "move %s", rec.ID)
		}
		if rec.Applied, err = robot.ParseAngles(applied); err != nil {
			return nil, errors.Wrapf(err, "move %s", rec.ID)
		}
		if rec.Result, err = robot.ParseAngles(result); err != nil {
			return nil, errors.Wrapf(err, "move %s", rec.ID)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		moves = append(moves, rec)
	}
	return moves, errors.Wrap(rows.Err(), "iterate moves")
}

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("migrate", "msg", fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
