// Package ecjournal keeps a SQLite record of engine runs, remote sessions
// and the slave events seen during them.
package ecjournal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/distributed/ecatlink/eccfg"
	"github.com/distributed/ecatlink/ecstatus"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	KindEngine  = "engine"
	KindSession = "session"
)

var ErrUnknownRun = errors.New("ecjournal: unknown run")

type Run struct {
	ID      uuid.UUID
	Kind    string
	Source  string
	Config  string
	Started time.Time
	Ended   time.Time // zero while running
	Fault   string
}

type Journal struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates or opens the journal at path. The database runs in WAL mode
// with a single connection.
func Open(path string, log *logrus.Entry) (*Journal, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal version: %w", err)
	}

	return &Journal{db: db, log: log.WithField("journal", path)}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// BeginRun records the start of an engine run on ifname.
func (j *Journal) BeginRun(ctx context.Context, id uuid.UUID, ifname string, cfg eccfg.Config) error {
	b, err := eccfg.Marshal(cfg)
	if err != nil {
		return err
	}
	return j.begin(ctx, id, KindEngine, ifname, string(b))
}

func (j *Journal) begin(ctx context.Context, id uuid.UUID, kind, source, config string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, source, config, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		id.String(), kind, source, config, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", kind, id, err)
	}
	return nil
}

// EndRun marks a run finished. A non-nil fault is stored with it.
func (j *Journal) EndRun(ctx context.Context, id uuid.UUID, fault error) error {
	var f sql.NullString
	if fault != nil {
		f = sql.NullString{String: fault.Error(), Valid: true}
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = ?, fault = ? WHERE id = ?`,
		time.Now().UnixNano(), f, id.String())
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end run %s: %w", id, ErrUnknownRun)
	}
	return nil
}

func (j *Journal) RecordEvent(ctx context.Context, id uuid.UUID, ev ecstatus.Event) error {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (run_id, slave, kind, message, at)
		VALUES (?, ?, ?, ?, ?)`,
		id.String(), ev.Slave, uint8(ev.Status.Kind()), ev.Status.Message(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("record event of %s: %w", id, err)
	}
	return nil
}

// Runs lists runs and sessions, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, source, config, started_at, ended_at, fault
		FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			started int64
			ended   sql.NullInt64
			fault   sql.NullString
		)
		if err := rows.Scan(&id, &r.Kind, &r.Source, &r.Config, &started, &ended, &fault); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		r.Started = time.Unix(0, started)
		if ended.Valid {
			r.Ended = time.Unix(0, ended.Int64)
		}
		r.Fault = fault.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Events returns the events of a run in the order they were recorded.
func (j *Journal) Events(ctx context.Context, id uuid.UUID) ([]ecstatus.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT slave, kind, message, at FROM events
		WHERE run_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("events of %s: %w", id, err)
	}
	defer rows.Close()

	var evs []ecstatus.Event
	for rows.Next() {
		var (
			slave uint16
			kind  uint8
			msg   string
			at    int64
		)
		if err := rows.Scan(&slave, &kind, &msg, &at); err != nil {
			return nil, fmt.Errorf("events of %s: %w", id, err)
		}
		evs = append(evs, ecstatus.Event{
			Slave:  slave,
			Status: ecstatus.New(ecstatus.Kind(kind), msg),
			Time:   time.Unix(0, at),
		})
	}
	return evs, rows.Err()
}

// Record drains events into the run until the channel closes or ctx ends.
func (j *Journal) Record(ctx context.Context, id uuid.UUID, events <-chan ecstatus.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := j.RecordEvent(ctx, id, ev); err != nil {
				j.log.WithError(err).Warn("event not journaled")
			}
		case <-ctx.Done():
			return
		}
	}
}

// SessionStarted, SessionEnded and Event let a remote link server journal
// its sessions. Failures are logged.

func (j *Journal) SessionStarted(id uuid.UUID, remote string) {
	if err := j.begin(context.Background(), id, KindSession, remote, ""); err != nil {
		j.log.WithError(err).Warn("session not journaled")
	}
}

func (j *Journal) SessionEnded(id uuid.UUID, err error) {
	if err := j.EndRun(context.Background(), id, err); err != nil {
		j.log.WithError(err).Warn("session end not journaled")
	}
}

func (j *Journal) Event(id uuid.UUID, ev ecstatus.Event) {
	if err := j.RecordEvent(context.Background(), id, ev); err != nil {
		j.log.WithError(err).Warn("event not journaled")
	}
}
