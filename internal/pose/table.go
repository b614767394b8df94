package pose

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/posekit/internal/dataset"
)

// EmbeddedRow is one table row turned into classifier features.
type EmbeddedRow struct {
	FileName  string
	Embedding []float64
	ClassNo   int
	ClassName string
}

// EmbeddedTable is an aggregated table turned into classifier features.
type EmbeddedTable struct {
	Rows       []EmbeddedRow
	ClassNames []string // in first-seen order
}

// EmbedTable reads an aggregated table and normalizes every row.
func EmbedTable(path string) (*EmbeddedTable, error) {
	table, err := dataset.ReadTable(path)
	if err != nil {
		return nil, err
	}
	return Embed(table)
}

// Embed normalizes every row of a parsed table. A row with degenerate
// geometry fails the whole table.
func Embed(table *dataset.Table) (*EmbeddedTable, error) {
	out := &EmbeddedTable{}
	seen := map[string]bool{}

	for _, row := range table.Rows {
		emb, err := EmbeddingFromRow(row.Values)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", row.FileName, err)
		}

		out.Rows = append(out.Rows, EmbeddedRow{
			FileName:  row.FileName,
			Embedding: emb,
			ClassNo:   row.ClassNo,
			ClassName: row.ClassName,
		})

		if !seen[row.ClassName] {
			seen[row.ClassName] = true
			out.ClassNames = append(out.ClassNames, row.ClassName)
		}
	}
	return out, nil
}

// Labels returns the class_no of every row.
func (t *EmbeddedTable) Labels() []int {
	labels := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		labels[i] = r.ClassNo
	}
	return labels
}

// Matrix returns the features as an n x EmbeddingSize matrix, or nil for an
// empty table.
func (t *EmbeddedTable) Matrix() *mat.Dense {
	if len(t.Rows) == 0 {
		return nil
	}
	m := mat.NewDense(len(t.Rows), EmbeddingSize, nil)
	for i, r := range t.Rows {
		m.SetRow(i, r.Embedding)
	}
	return m
}

// Header returns the embeddings file header.
func Header() []string {
	h := make([]string, 0, EmbeddingSize+3)
	h = append(h, dataset.ColumnFileName)
	for i := 0; i < EmbeddingSize; i++ {
		h = append(h, "e"+strconv.Itoa(i))
	}
	return append(h, dataset.ColumnClassNo, dataset.ColumnClassName)
}

// WriteEmbeddings writes the header and one line per row.
func WriteEmbeddings(w io.Writer, t *EmbeddedTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	line := make([]string, 0, EmbeddingSize+3)
	for _, r := range t.Rows {
		line = line[:0]
		line = append(line, r.FileName)
		for _, v := range r.Embedding {
			line = append(line, dataset.FormatValue(v))
		}
		line = append(line, strconv.Itoa(r.ClassNo), r.ClassName)
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
