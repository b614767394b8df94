package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ayusman/posekit/internal/detector"
)

// Fixed table column names.
const (
	ColumnFileName  = "file_name"
	ColumnClassNo   = "class_no"
	ColumnClassName = "class_name"
)

// LandmarkValues is the number of landmark scalars per row (33 x 3).
const LandmarkValues = detector.NumLandmarks * 3

// NumColumns is the total column count of the aggregated table.
const NumColumns = 1 + LandmarkValues + 2

// Header returns the aggregated table header. The third scalar of every
// landmark carries the detector z value under the "_score" suffix.
func Header() []string {
	header := make([]string, 0, NumColumns)
	header = append(header, ColumnFileName)
	for _, part := range detector.BodyParts() {
		name := part.String()
		header = append(header, name+"_x", name+"_y", name+"_score")
	}
	return append(header, ColumnClassNo, ColumnClassName)
}

// Row is one parsed line of the aggregated table.
type Row struct {
	FileName  string
	Values    []float64 // LandmarkValues scalars in header order
	ClassNo   int
	ClassName string
}

// Table is the parsed aggregated table.
type Table struct {
	Rows []Row
}

// ClassNames returns class names ordered by class_no.
func (t *Table) ClassNames() []string {
	byNo := map[int]string{}
	maxNo := -1
	for _, r := range t.Rows {
		byNo[r.ClassNo] = r.ClassName
		if r.ClassNo > maxNo {
			maxNo = r.ClassNo
		}
	}
	names := make([]string, 0, len(byNo))
	for i := 0; i <= maxNo; i++ {
		if n, ok := byNo[i]; ok {
			names = append(names, n)
		}
	}
	return names
}

// FormatValue renders a landmark scalar the same way on every run.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeClassCSV writes the header-less per-class file: image name followed by
// the 99 landmark scalars.
func writeClassCSV(path string, records []PoseRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create class csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := make([]string, 0, 1+LandmarkValues)
	for _, rec := range records {
		row = row[:0]
		row = append(row, rec.FileName)
		for _, v := range rec.Landmarks.Flatten() {
			row = append(row, FormatValue(v))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write class csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush class csv: %w", err)
	}
	return f.Close()
}

// appendClassCSV copies a per-class file into the aggregated writer, adding
// the label columns and qualifying file names with the class folder.
func appendClassCSV(w *csv.Writer, path string, classNo int, className string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open class csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 1 + LandmarkValues
	r.ReuseRecord = true

	classNoStr := strconv.Itoa(classNo)
	out := make([]string, NumColumns)
	n := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read class csv %s: %w", path, err)
		}

		out[0] = className + "/" + rec[0]
		copy(out[1:1+LandmarkValues], rec[1:])
		out[NumColumns-2] = classNoStr
		out[NumColumns-1] = className

		if err := w.Write(out); err != nil {
			return n, fmt.Errorf("write table row: %w", err)
		}
		n++
	}
	return n, nil
}

// ReadTable parses an aggregated table written by the builder.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable parses an aggregated table from r.
func ParseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = NumColumns

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := Header()
	for i := range want {
		if header[i] != want[i] {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], want[i])
		}
	}

	table := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		row := Row{
			FileName:  rec[0],
			Values:    make([]float64, LandmarkValues),
			ClassName: rec[NumColumns-1],
		}
		for i := 0; i < LandmarkValues; i++ {
			v, err := strconv.ParseFloat(rec[1+i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, want[1+i], err)
			}
			row.Values[i] = v
		}
		row.ClassNo, err = strconv.Atoi(rec[NumColumns-2])
		if err != nil {
			return nil, fmt.Errorf("line %d class_no: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
