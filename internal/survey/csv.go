package survey

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes the table with a header row, quoting fields per RFC 4180.
// An empty table produces no output.
func WriteCSV(w io.Writer, t *Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
