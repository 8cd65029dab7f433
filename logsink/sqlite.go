package logsink

import (
	"database/sql"
	"fmt"
	"github.com/jd3nn1s/groundstation/telemetry"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const createSessionsSQL = `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        started_at TEXT NOT NULL,
        ended_at TEXT
    )`

const insertSessionSQL = `INSERT INTO sessions (id, started_at) VALUES (?, ?)`

const endSessionSQL = `UPDATE sessions SET ended_at = ? WHERE id = ?`

// SQLiteBackend writes each session to its own database,
// <dir>/session_<id>.sqlite, with one table per record kind.
type SQLiteBackend struct {
	dir string
	now func() time.Time
}

func NewSQLiteBackend(dir string) *SQLiteBackend {
	return &SQLiteBackend{dir: dir, now: time.Now}
}

// Path returns the database file of a session.
func (b *SQLiteBackend) Path(sessionID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("session_%s.sqlite", sessionID))
}

func (b *SQLiteBackend) Begin(sessionID string) (j Journal, err error) {
	if err = os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create %s", b.dir)
	}
	path := b.Path(sessionID)
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	// all writes go through one connection
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(createSessionsSQL); err != nil {
		return nil, errors.Wrap(err, "initializing schema")
	}
	if _, err = db.Exec(insertSessionSQL, sessionID, b.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, errors.Wrap(err, "inserting session")
	}
	log.WithField("file", path).Debug("session database created")
	return &sqliteJournal{
		db:        db,
		sessionID: sessionID,
		now:       b.now,
		stmts:     make(map[telemetry.Kind]*sql.Stmt),
	}, nil
}

type sqliteJournal struct {
	db        *sql.DB
	sessionID string
	now       func() time.Time
	stmts     map[telemetry.Kind]*sql.Stmt
}

func createTableSQL(kind telemetry.Kind) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %q (\n    id INTEGER PRIMARY KEY AUTOINCREMENT", kind.String())
	for _, c := range schema[kind] {
		fmt.Fprintf(&b, ",\n    %s %s", c.name, c.typ.sql())
	}
	b.WriteString("\n)")
	return b.String()
}

func insertSQL(kind telemetry.Kind) string {
	names := Columns(kind)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", kind.String(), strings.Join(names, ", "), marks)
}

func (j *sqliteJournal) stmt(kind telemetry.Kind) (*sql.Stmt, error) {
	if s, ok := j.stmts[kind]; ok {
		return s, nil
	}
	if _, ok := schema[kind]; !ok {
		return nil, errors.Errorf("no table for %s", kind)
	}
	if _, err := j.db.Exec(createTableSQL(kind)); err != nil {
		return nil, errors.Wrapf(err, "creating %s table", kind)
	}
	s, err := j.db.Prepare(insertSQL(kind))
	if err != nil {
		return nil, errors.Wrapf(err, "preparing %s insert", kind)
	}
	j.stmts[kind] = s
	return s, nil
}

func (j *sqliteJournal) Append(rec telemetry.Record) error {
	s, err := j.stmt(rec.Kind())
	if err != nil {
		return err
	}
	if _, err := s.Exec(values(rec)...); err != nil {
		return errors.Wrapf(err, "inserting %s", rec.Kind())
	}
	return nil
}

func (j *sqliteJournal) Close() (err error) {
	for kind, s := range j.stmts {
		closeWithError(s, &err)
		delete(j.stmts, kind)
	}
	if _, uerr := j.db.Exec(endSessionSQL, j.now().UTC().Format(time.RFC3339Nano), j.sessionID); uerr != nil && err == nil {
		err = errors.Wrap(uerr, "closing session")
	}
	closeWithError(j.db, &err)
	return err
}
