package decode

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mjhen/rosterbridge/internal/grid"
)

// decodeXLSX reads the first worksheet. Cells come back as displayed, so
// dates keep the workbook's number format.
func decodeXLSX(data []byte) (grid.Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return grid.New(rows), nil
}
