package export

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/model"
)

func writeCSV(path string, r *model.PropertyResult) error {
	if err := writeCSVFile(path, Columns(r.Linked), len(r.Records), func(i int) []string {
		return Row(r.Records[i], r.Linked)
	}); err != nil {
		return err
	}
	if len(r.Media) == 0 {
		return nil
	}
	return writeCSVFile(mediaPath(path), mediaColumns, len(r.Media), func(i int) []string {
		return mediaRow(r.Media[i])
	})
}

func writeCSVFile(path string, header []string, n int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush CSV")
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// mediaPath names the media sidecar next to a CSV record table.
func mediaPath(path string) string {
	return strings.TrimSuffix(path, ".csv") + "_media.csv"
}
