package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

// Writer persists the report row as <dir>/<prefix>_<date>.csv.
type Writer struct {
	dir    string
	prefix string
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix}
}

// Path returns the artifact path for date.
func (w *Writer) Path(date report.Date) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", w.prefix, date))
}

// Write writes the header and data records, replacing any file already at
// the path. The file is written next to its destination and renamed into
// place so a failed write never leaves a truncated report behind.
func (w *Writer) Write(date report.Date, row report.Row) (path string, err error) {
	if len(row.Header) != len(row.Values) {
		return "", goerr.New("header and data length differ",
			goerr.V("header", len(row.Header)),
			goerr.V("values", len(row.Values)))
	}

	path = w.Path(date)
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", goerr.Wrap(err, "failed to create output directory",
			goerr.V("dir", w.dir),
			goerr.T(apperr.TagFileWrite))
	}

	tmp, err := os.CreateTemp(w.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", goerr.Wrap(err, "failed to create report file",
			goerr.V("path", path),
			goerr.T(apperr.TagFileWrite))
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	writer := csv.NewWriter(tmp)
	if err = writer.Write(row.Header); err != nil {
		return "", goerr.Wrap(err, "failed to write header", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	if err = writer.Write(row.Values); err != nil {
		return "", goerr.Wrap(err, "failed to write data row", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	writer.Flush()
	if err = writer.Error(); err != nil {
		return "", goerr.Wrap(err, "failed to flush report", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	if err = tmp.Chmod(0644); err != nil {
		return "", goerr.Wrap(err, "failed to set report permissions", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	if err = tmp.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to close report", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", goerr.Wrap(err, "failed to move report into place", goerr.V("path", path), goerr.T(apperr.TagFileWrite))
	}
	return path, nil
}
