package logsink

import (
	"encoding/csv"
	"fmt"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"os"
	"path/filepath"
	"time"
)

// CSVBackend writes one CSV file per record kind and session:
// <dir>/drone_<kind>_<YYYYmmdd_HHMMSS>_<session8>.csv
type CSVBackend struct {
	dir string
	now func() time.Time
}

func NewCSVBackend(dir string) *CSVBackend {
	return &CSVBackend{dir: dir, now: time.Now}
}

func (b *CSVBackend) Begin(sessionID string) (Journal, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create %s", b.dir)
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return &csvJournal{
		dir:     b.dir,
		suffix:  fmt.Sprintf("%s_%s", b.now().Format("20060102_150405"), short),
		targets: make(map[telemetry.Kind]*csvTarget),
	}, nil
}

type csvTarget struct {
	f *os.File
	w *csv.Writer
}

type csvJournal struct {
	dir     string
	suffix  string
	targets map[telemetry.Kind]*csvTarget
}

func (j *csvJournal) path(kind telemetry.Kind) string {
	return filepath.Join(j.dir, fmt.Sprintf("drone_%s_%s.csv", kind, j.suffix))
}

func (j *csvJournal) target(kind telemetry.Kind) (*csvTarget, error) {
	if t, ok := j.targets[kind]; ok {
		return t, nil
	}
	path := j.path(kind)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create log file")
	}
	t := &csvTarget{f: f, w: csv.NewWriter(f)}
	if err := t.write(Columns(kind)); err != nil {
		_ = f.Close()
		return nil, err
	}
	j.targets[kind] = t
	log.WithField("file", path).Debug("log file created")
	return t, nil
}

func (j *csvJournal) Append(rec telemetry.Record) error {
	t, err := j.target(rec.Kind())
	if err != nil {
		return err
	}
	vals := values(rec)
	row := make([]string, len(vals))
	for i, v := range vals {
		row[i] = format(v)
	}
	return t.write(row)
}

// write flushes after every row.
func (t *csvTarget) write(row []string) error {
	if err := t.w.Write(row); err != nil {
		return errors.Wrapf(err, "unable to write %s", t.f.Name())
	}
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return errors.Wrapf(err, "unable to flush %s", t.f.Name())
	}
	return nil
}

func (j *csvJournal) Close() (err error) {
	for kind, t := range j.targets {
		t.w.Flush()
		if ferr := t.w.Error(); ferr != nil && err == nil {
			err = ferr
		}
		closeWithError(t.f, &err)
		delete(j.targets, kind)
	}
	return err
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
