// Package storage persists the task queue and audit history in SQLite.
package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// TaskRow mirrors one task across the tasks and history tables.
type TaskRow struct {
	ID           string
	DeviceName   string
	IPAddress    string
	DeviceType   string
	Operation    string
	Region       string
	ScheduleTime string
	Status       string
	Log          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the durable backing for the queue manager. The active `tasks`
// table holds non-terminal tasks; `history` is append-only and immutable.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	device_name   TEXT NOT NULL,
	ip_address    TEXT NOT NULL,
	device_type   TEXT NOT NULL,
	operation     TEXT NOT NULL,
	region        TEXT NOT NULL DEFAULT '',
	schedule_time TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	log           TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	id            TEXT PRIMARY KEY,
	device_name   TEXT NOT NULL,
	ip_address    TEXT NOT NULL,
	device_type   TEXT NOT NULL,
	operation     TEXT NOT NULL,
	region        TEXT NOT NULL DEFAULT '',
	schedule_time TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	log           TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_updated ON history(updated_at);
`

// Open opens (creating if needed) the task database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite database failed")
	}
	// Single writer keeps transitions serialized at the driver level too.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "storage: prepare schema failed")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DiscardActive drops every non-terminal leftover from a prior run and
// returns how many rows were removed. Interrupted operations are never
// resumed; correctness over completion.
func (s *Store) DiscardActive() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tasks`)
	if err != nil {
		return 0, errors.Wrap(err, "storage: discard active tasks failed")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertTask records a freshly enqueued task.
func (s *Store) InsertTask(row TaskRow) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, device_name, ip_address, device_type, operation,
			region, schedule_time, status, log, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.DeviceName, row.IPAddress, row.DeviceType, row.Operation,
		row.Region, row.ScheduleTime, row.Status, row.Log,
		row.CreatedAt.UnixNano(), row.UpdatedAt.UnixNano())
	return errors.Wrap(err, "storage: insert task failed")
}

// UpdateTask mirrors a status/log mutation of an active task.
func (s *Store) UpdateTask(id, status, logText string, updatedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, log = ?, updated_at = ? WHERE id = ?`,
		status, logText, updatedAt.UnixNano(), id)
	return errors.Wrap(err, "storage: update task failed")
}

// MoveToHistory atomically retires a terminal task from the active table
// into the append-only history.
func (s *Store) MoveToHistory(row TaskRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "storage: begin history move failed")
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, row.ID); err != nil {
		return errors.Wrap(err, "storage: remove active task failed")
	}
	if _, err := tx.Exec(
		`INSERT INTO history (id, device_name, ip_address, device_type, operation,
			region, schedule_time, status, log, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.DeviceName, row.IPAddress, row.DeviceType, row.Operation,
		row.Region, row.ScheduleTime, row.Status, row.Log,
		row.CreatedAt.UnixNano(), row.UpdatedAt.UnixNano()); err != nil {
		return errors.Wrap(err, "storage: insert history row failed")
	}
	return errors.Wrap(tx.Commit(), "storage: commit history move failed")
}

// ListHistory returns terminal tasks, most recently updated first.
func (s *Store) ListHistory() ([]TaskRow, error) {
	rows, err := s.db.Query(
		`SELECT id, device_name, ip_address, device_type, operation,
			region, schedule_time, status, log, created_at, updated_at
		 FROM history ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list history failed")
	}
	defer rows.Close()
	var out []TaskRow
	for rows.Next() {
		row, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate history failed")
}

// GetHistory looks up one terminal task by id.
func (s *Store) GetHistory(id string) (TaskRow, bool, error) {
	rows, err := s.db.Query(
		`SELECT id, device_name, ip_address, device_type, operation,
			region, schedule_time, status, log, created_at, updated_at
		 FROM history WHERE id = ?`, id)
	if err != nil {
		return TaskRow{}, false, errors.Wrap(err, "storage: get history failed")
	}
	defer rows.Close()
	if !rows.Next() {
		return TaskRow{}, false, errors.Wrap(rows.Err(), "storage: get history failed")
	}
	row, err := scanTask(rows)
	if err != nil {
		return TaskRow{}, false, err
	}
	return row, true, nil
}

func scanTask(rows *sql.Rows) (TaskRow, error) {
	var row TaskRow
	var created, updated int64
	if err := rows.Scan(&row.ID, &row.DeviceName, &row.IPAddress, &row.DeviceType,
		&row.Operation, &row.Region, &row.ScheduleTime, &row.Status, &row.Log,
		&created, &updated); err != nil {
		return TaskRow{}, errors.Wrap(err, "storage: scan task row failed")
	}
	row.CreatedAt = time.Unix(0, created).UTC()
	row.UpdatedAt = time.Unix(0, updated).UTC()
	return row, nil
}
