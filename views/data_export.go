package views

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"swingmetrics/errors"
	"swingmetrics/models"
	"swingmetrics/utils"
)

// CSVOptions controls the exported text layout.
type CSVOptions struct {
	Separator    string // between fields, default ", "
	Precision    int    // decimals per field, negative selects 6
	WriteHeader  bool
	BufferSizeKB int
}

func (o CSVOptions) withDefaults() CSVOptions {
	if o.Separator == "" {
		o.Separator = ", "
	}
	if o.Precision < 0 {
		o.Precision = models.DefaultPrecision
	}
	if o.BufferSizeKB <= 0 {
		o.BufferSizeKB = 64
	}
	return o
}

// CSVExporter writes a session snapshot to a CSV file.
//
// Fields are fixed-point numbers, so rows are joined directly rather than
// quoted through encoding/csv, which cannot emit the multi-character
// separator the watch format uses.
type CSVExporter struct {
	opts CSVOptions
}

func NewCSVExporter(opts CSVOptions) *CSVExporter {
	return &CSVExporter{opts: opts.withDefaults()}
}

func (e *CSVExporter) Options() CSVOptions { return e.opts }

// Export truncates or creates path and writes one line per row. Every
// failure is returned wrapped in errors.ErrIO.
func (e *CSVExporter) Export(rows []models.SampleRow, path string) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.IO(path, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.IO(path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.IO(path, cerr)
		}
	}()

	bw := bufio.NewWriterSize(f, e.opts.BufferSizeKB*1024)
	if e.opts.WriteHeader {
		if err := e.writeLine(bw, models.SampleRow{}.CSVHeader()); err != nil {
			return errors.IO(path, err)
		}
	}
	for i := range rows {
		if err := e.writeLine(bw, rows[i].CSVRow(e.opts.Precision)); err != nil {
			return errors.IO(path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.IO(path, err)
	}
	if err := f.Sync(); err != nil {
		return errors.IO(path, err)
	}

	utils.L().Debug("exported %d rows to %s", len(rows), path)
	return nil
}

func (e *CSVExporter) writeLine(w *bufio.Writer, fields []string) error {
	if _, err := w.WriteString(strings.Join(fields, e.opts.Separator)); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
