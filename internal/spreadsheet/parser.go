package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	xlsReader "github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
)

// Container signatures. Mislabeled extensions are common in exports, so
// dispatch is driven by magic bytes, never by filename.
var (
	zipMagic      = []byte{0x50, 0x4B, 0x03, 0x04}
	compoundMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

type ParseOptions struct {
	// ScanRows bounds the header-row heuristic; zero means DefaultScanRows.
	ScanRows int
}

// Parse sniffs the container type, extracts the first sheet as a raw grid,
// locates the header row, and normalizes the result into a Table. A failed
// binary-container read falls back to a delimited-text read of the same
// bytes; the original error is surfaced if both fail.
func Parse(data []byte, opts ParseOptions) (*Table, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrUnparsable)
	}

	var (
		grid [][]string
		err  error
	)
	switch {
	case bytes.HasPrefix(data, zipMagic):
		grid, err = readXLSX(data)
	case bytes.HasPrefix(data, compoundMagic):
		grid, err = readXLS(data)
	default:
		grid, err = readDelimited(data)
	}
	if err != nil {
		if !bytes.HasPrefix(data, zipMagic) && !bytes.HasPrefix(data, compoundMagic) {
			return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
		}
		fallback, textErr := readDelimited(data)
		if textErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
		}
		grid = fallback
	}

	return buildTable(grid, opts.ScanRows)
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readXLS(data []byte) ([][]string, error) {
	workbook, err := xlsReader.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if workbook.GetNumberSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, fmt.Errorf("read first sheet: %w", err)
	}

	var grid [][]string
	for r := 0; r < sheet.GetNumberRows(); r++ {
		row, err := sheet.GetRow(r)
		if err != nil {
			// Skip rows the reader cannot decode.
			continue
		}
		cols := row.GetCols()
		cells := make([]string, len(cols))
		for c, cell := range cols {
			cells[c] = cell.GetString()
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

func readDelimited(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var grid [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read delimited text: %w", err)
		}
		grid = append(grid, record)
	}
	if len(grid) == 0 {
		return nil, errors.New("file has no rows")
	}
	return grid, nil
}

// sniffDelimiter picks the candidate delimiter with the highest count on the
// first non-empty line. Comma wins ties by candidate order.
func sniffDelimiter(data []byte) rune {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		best := ','
		bestCount := 0
		for _, d := range []rune{',', ';', '\t', '|'} {
			if count := strings.Count(line, string(d)); count > bestCount {
				best = d
				bestCount = count
			}
		}
		return best
	}
	return ','
}

func buildTable(grid [][]string, scanRows int) (*Table, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: sheet is empty", ErrUnparsable)
	}

	headerIdx := findHeaderRow(grid, scanRows)

	// Rows can be ragged; size the table to the widest row so trailing cells
	// still land under a COLUMN_<n> header.
	width := 0
	for _, row := range grid[headerIdx:] {
		if len(row) > width {
			width = len(row)
		}
	}
	rawHeader := make([]string, width)
	copy(rawHeader, grid[headerIdx])

	headers := normalizeHeaders(rawHeader)
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = h.Normalized
	}

	var rows []map[string]*string
	for _, raw := range grid[headerIdx+1:] {
		row := make(map[string]*string, len(normalized))
		empty := true
		for i, name := range normalized {
			var cell *string
			if i < len(raw) {
				cell = normalizeCell(raw[i])
			}
			if cell != nil {
				empty = false
			}
			row[name] = cell
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrUnparsable)
	}

	return &Table{
		Headers:           headers,
		NormalizedHeaders: normalized,
		Rows:              rows,
	}, nil
}
