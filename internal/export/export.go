// Package export writes each property's reconciled records to a CSV or XLSX
// table named after the property.
package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/model"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat converts a string into a Format. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unknown format %q (valid: csv, xlsx)", s)
	}
}

// Exporter writes property results into a directory.
type Exporter struct {
	dir    string
	format Format
}

// NewExporter returns an exporter writing format files into dir.
func NewExporter(dir string, format Format) *Exporter {
	if format == "" {
		format = FormatCSV
	}
	return &Exporter{dir: dir, format: format}
}

// Path returns the file a property's records are written to.
func (e *Exporter) Path(property string) string {
	return filepath.Join(e.dir, SanitizeName(property)+"."+string(e.format))
}

// Emit writes r and returns the path of the record table. Results that are
// not exportable produce no file.
func (e *Exporter) Emit(ctx context.Context, r *model.PropertyResult) (string, error) {
	if !r.Exportable() {
		return "", eris.Errorf("export: property %q has no records to write", r.Property)
	}
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "export: cancelled")
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create %s", e.dir)
	}

	path := e.Path(r.Property)
	var err error
	switch e.format {
	case FormatXLSX:
		err = writeXLSX(path, r)
	default:
		err = writeCSV(path, r)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
