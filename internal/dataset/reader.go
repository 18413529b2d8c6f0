package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/framebench/framebench/pkg/types"
)

// ReadRows parses a dataset file into rows. It is the reference decoder used to
// check engine results and is never on a timed path.
func ReadRows(path string) ([]types.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to read header: %w", err)
	}
	want := types.DatasetSchema().Header()
	if len(header) != len(want) {
		return nil, fmt.Errorf("dataset: header has %d columns, want %d", len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return nil, fmt.Errorf("dataset: column %d is %q, want %q", i, header[i], want[i])
		}
	}

	var rows []types.Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := ParseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseRecord converts one CSV record in schema order into a Row.
func ParseRecord(rec []string) (types.Row, error) {
	if len(rec) != 5 {
		return types.Row{}, fmt.Errorf("expected 5 fields, got %d", len(rec))
	}
	id, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return types.Row{}, fmt.Errorf("invalid id %q: %w", rec[0], err)
	}
	n1, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return types.Row{}, fmt.Errorf("invalid numeric1 %q: %w", rec[2], err)
	}
	n2, err := strconv.ParseInt(rec[3], 10, 64)
	if err != nil {
		return types.Row{}, fmt.Errorf("invalid numeric2 %q: %w", rec[3], err)
	}
	return types.Row{
		ID:       id,
		Category: rec[1],
		Numeric1: n1,
		Numeric2: n2,
		Text:     rec[4],
	}, nil
}
