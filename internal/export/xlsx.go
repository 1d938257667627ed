package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/adamdsmith/fwspp/internal/model"
)

const (
	recordsSheet = "records"
	mediaSheet   = "media"
)

func writeXLSX(path string, r *model.PropertyResult) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(recordsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add records sheet")
	}
	addRow(sheet, Columns(r.Linked))
	for _, rec := range r.Records {
		addRow(sheet, Row(rec, r.Linked))
	}

	if len(r.Media) > 0 {
		ms, err := f.AddSheet(mediaSheet)
		if err != nil {
			return eris.Wrap(err, "export: add media sheet")
		}
		addRow(ms, mediaColumns)
		for _, m := range r.Media {
			addRow(ms, mediaRow(m))
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
