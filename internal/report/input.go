package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Measurement is a professional roof measurement for a learning flag.
type Measurement struct {
	FlagID   string
	AreaSqFt float64
}

// ReadAddresses reads one address per row from the first column of an
// .xlsx or .csv file, or one per line from a plain text file. Blank rows are skipped, as is a first row
// whose first cell is "address" in any case.
func ReadAddresses(path string) ([]string, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		addr := strings.TrimSpace(row[0])
		if addr == "" || (i == 0 && strings.EqualFold(addr, "address")) {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// ReadMeasurements reads flag ID and measured area pairs from the first two
// columns. A header row is recognized by a non-numeric area and skipped;
// any other unparseable row is an error.
func ReadMeasurements(path string) ([]Measurement, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	var out []Measurement
	for i, row := range rows {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		area, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(row[1]), ",", ""), 64)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, eris.Wrapf(err, "report: row %d: measured area %q", i+1, row[1])
		}
		out = append(out, Measurement{FlagID: strings.TrimSpace(row[0]), AreaSqFt: area})
	}
	return out, nil
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".csv":
		fh, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "report: open file")
		}
		defer fh.Close() //nolint:errcheck
		return readCSV(fh)
	case ".txt", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "report: read file")
		}
		return readLines(string(data)), nil
	default:
		return nil, eris.Errorf("report: unsupported file type %q", filepath.Ext(path))
	}
}

// readXLSX returns the first sheet's rows as strings.
func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "report: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("report: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "report: read csv")
	}
	return rows, nil
}

// readLines treats each line of a text file as a single-column row. Tab
// separated lines keep their columns.
func readLines(data string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}
