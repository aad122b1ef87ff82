// Package sqlstore loads trigger rows from a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crystal-mush/mushscript/pkg/trigger"
)

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	id          INTEGER PRIMARY KEY,
	name        TEXT    NOT NULL DEFAULT '',
	attach_type INTEGER NOT NULL,
	flags       INTEGER NOT NULL DEFAULT 0,
	commands    TEXT    NOT NULL DEFAULT '',
	num_args    INTEGER NOT NULL DEFAULT 0,
	arg_list    TEXT    NOT NULL DEFAULT '[]',
	zone_id     INTEGER,
	mob_id      INTEGER,
	object_id   INTEGER
);
CREATE INDEX IF NOT EXISTS triggers_zone ON triggers(zone_id);
CREATE INDEX IF NOT EXISTS triggers_mob ON triggers(mob_id);
CREATE INDEX IF NOT EXISTS triggers_object ON triggers(object_id);
CREATE TABLE IF NOT EXISTS trigger_vars (
	trigger_id INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	PRIMARY KEY (trigger_id, name)
);`

const selectTriggers = `SELECT id, name, attach_type, flags, commands, num_args, arg_list,
	zone_id, mob_id, object_id FROM triggers`

// Store is a trigger.Loader and a variable store backed by SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
}

// Open opens or creates a SQLite database, sets WAL mode and busy timeout,
// and creates the trigger tables.
func Open(path string, timeoutSec int) (*Store, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// One connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{
		db:      db,
		path:    path,
		timeout: time.Duration(timeoutSec) * time.Second,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string { return s.path }

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("sqlstore: store is closed")
	}
	return s.db, nil
}

// PutTrigger inserts or replaces a trigger row and its variables.
func (s *Store) PutTrigger(ctx context.Context, t *trigger.TriggerData) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("sqlstore: put trigger %d: %w", t.ID, err)
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	args, err := json.Marshal(nonNil(t.ArgList))
	if err != nil {
		return fmt.Errorf("sqlstore: encode args of trigger %d: %w", t.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: put trigger %d: %w", t.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO triggers
		(id, name, attach_type, flags, commands, num_args, arg_list, zone_id, mob_id, object_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, int(t.AttachType), int64(t.Flags), t.Commands, t.NumArgs, string(args),
		nullID(t.ZoneID), nullID(t.MobID), nullID(t.ObjectID))
	if err != nil {
		return fmt.Errorf("sqlstore: put trigger %d: %w", t.ID, err)
	}
	if err := saveVars(ctx, tx, t.ID, t.Variables); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTrigger removes a trigger row and its variables.
func (s *Store) DeleteTrigger(ctx context.Context, id int) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DELETE FROM trigger_vars WHERE trigger_id = ?", id); err != nil {
		return fmt.Errorf("sqlstore: delete trigger %d: %w", id, err)
	}
	res, err := db.ExecContext(ctx, "DELETE FROM triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete trigger %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlstore: delete trigger %d: %w", id, trigger.ErrNotFound)
	}
	return nil
}

func (s *Store) ZoneTriggers(ctx context.Context, zone int) ([]*trigger.TriggerData, error) {
	return s.query(ctx, selectTriggers+" WHERE attach_type = ? AND zone_id = ? ORDER BY id", int(trigger.AttachWorld), zone)
}

func (s *Store) MobTriggers(ctx context.Context, mob int) ([]*trigger.TriggerData, error) {
	return s.query(ctx, selectTriggers+" WHERE attach_type = ? AND mob_id = ? ORDER BY id", int(trigger.AttachMob), mob)
}

func (s *Store) ObjectTriggers(ctx context.Context, object int) ([]*trigger.TriggerData, error) {
	return s.query(ctx, selectTriggers+" WHERE attach_type = ? AND object_id = ? ORDER BY id", int(trigger.AttachObject), object)
}

// Trigger returns one trigger by id, or an error wrapping trigger.ErrNotFound.
func (s *Store) Trigger(ctx context.Context, id int) (*trigger.TriggerData, error) {
	rows, err := s.query(ctx, selectTriggers+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sqlstore: trigger %d: %w", id, trigger.ErrNotFound)
	}
	return rows[0], nil
}

// All returns every trigger ordered by id.
func (s *Store) All(ctx context.Context) ([]*trigger.TriggerData, error) {
	return s.query(ctx, selectTriggers+" ORDER BY id")
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*trigger.TriggerData, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query triggers: %w", err)
	}
	var out []*trigger.TriggerData
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlstore: query triggers: %w", err)
	}
	rows.Close()

	for _, t := range out {
		vars, err := loadVars(ctx, db, t.ID)
		if err != nil {
			return nil, err
		}
		t.Variables = vars
	}
	return out, nil
}

func scanTrigger(rows *sql.Rows) (*trigger.TriggerData, error) {
	var (
		t                 trigger.TriggerData
		attach            int
		flags             int64
		argList           string
		zone, mob, object sql.NullInt64
	)
	if err := rows.Scan(&t.ID, &t.Name, &attach, &flags, &t.Commands, &t.NumArgs, &argList,
		&zone, &mob, &object); err != nil {
		return nil, fmt.Errorf("sqlstore: scan trigger: %w", err)
	}
	t.AttachType = trigger.AttachType(attach)
	t.Flags = trigger.Flags(flags)
	if err := json.Unmarshal([]byte(argList), &t.ArgList); err != nil {
		return nil, fmt.Errorf("sqlstore: trigger %d: bad arg_list: %w", t.ID, err)
	}
	t.ZoneID = fromNull(zone)
	t.MobID = fromNull(mob)
	t.ObjectID = fromNull(object)
	return &t, nil
}

// LoadVars returns the stored variables of a trigger.
func (s *Store) LoadVars(ctx context.Context, triggerID int) (map[string]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return loadVars(ctx, db, triggerID)
}

// SaveVars replaces the stored variables of a trigger.
func (s *Store) SaveVars(ctx context.Context, triggerID int, vars map[string]string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: save vars of trigger %d: %w", triggerID, err)
	}
	defer tx.Rollback()
	if err := saveVars(ctx, tx, triggerID, vars); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
}

func loadVars(ctx context.Context, db queryer, triggerID int) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM trigger_vars WHERE trigger_id = ?", triggerID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load vars of trigger %d: %w", triggerID, err)
	}
	defer rows.Close()
	vars := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlstore: load vars of trigger %d: %w", triggerID, err)
		}
		vars[k] = v
	}
	return vars, rows.Err()
}

func saveVars(ctx context.Context, tx *sql.Tx, triggerID int, vars map[string]string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM trigger_vars WHERE trigger_id = ?", triggerID); err != nil {
		return fmt.Errorf("sqlstore: save vars of trigger %d: %w", triggerID, err)
	}
	for k, v := range vars {
		if _, err := tx.ExecContext(ctx, "INSERT INTO trigger_vars (trigger_id, name, value) VALUES (?, ?, ?)",
			triggerID, k, v); err != nil {
			return fmt.Errorf("sqlstore: save vars of trigger %d: %w", triggerID, err)
		}
	}
	return nil
}

func nullID(a trigger.AttachID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(a.ID), Valid: a.Valid}
}

func fromNull(n sql.NullInt64) trigger.AttachID {
	return trigger.AttachID{ID: int(n.Int64), Valid: n.Valid}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
