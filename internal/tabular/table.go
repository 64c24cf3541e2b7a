// Package tabular decodes, concatenates, encodes and canonicalizes Parquet
// tables. Tables are fully materialized in memory.
package tabular

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go"
)

const readBatchSize = 512

// DecodeError reports a corrupt or incompatible Parquet object.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Table is a decoded Parquet table: its schema and every row in order.
type Table struct {
	Schema *parquet.Schema
	Rows   []parquet.Row
}

func (t *Table) NumRows() int64 {
	return int64(len(t.Rows))
}

// ReadFile decodes the Parquet file at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	t := &Table{Schema: pf.Schema(), Rows: make([]parquet.Row, 0, pf.NumRows())}
	buf := make([]parquet.Row, readBatchSize)
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(rg, buf, t); err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
	}
	return t, nil
}

func readRowGroup(rg parquet.RowGroup, buf []parquet.Row, t *Table) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		// rows in buf are reused by the next read
		for _, row := range buf[:n] {
			t.Rows = append(t.Rows, row.Clone())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Concat appends the rows of tables in order. All schemas must have the
// fields and types of the first one; columns are matched by name and laid
// out in the first table's column order.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.New("concat: no tables")
	}

	first := tables[0]
	aligned := make([]*Table, len(tables))
	total := 0
	for i, t := range tables {
		if i > 0 {
			if diff := CompareSchemas(first.Schema, t.Schema); !diff.Empty() {
				err := fmt.Errorf("incompatible schema: %s", strings.Join(diff.Issues(), "; "))
				return nil, &DecodeError{Path: fmt.Sprintf("table #%d", i), Err: err}
			}
			var err error
			if t, err = t.Conform(first.Schema); err != nil {
				return nil, &DecodeError{Path: fmt.Sprintf("table #%d", i), Err: err}
			}
		}
		aligned[i] = t
		total += len(t.Rows)
	}

	out := &Table{Schema: first.Schema, Rows: make([]parquet.Row, 0, total)}
	for _, t := range aligned {
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

// Conform returns t with every value moved to the column of schema that has
// the same leaf path. Both schemas must have the same set of leaf paths.
func (t *Table) Conform(schema *parquet.Schema) (*Table, error) {
	from, to := t.Schema.Columns(), schema.Columns()
	if slices.EqualFunc(from, to, slices.Equal[[]string]) {
		return &Table{Schema: schema, Rows: t.Rows}, nil
	}
	if len(from) != len(to) {
		return nil, fmt.Errorf("incompatible schema: %d columns vs %d", len(from), len(to))
	}

	index := make(map[string]int, len(to))
	for i, path := range to {
		index[strings.Join(path, ".")] = i
	}
	perm := make([]int, len(from))
	for i, path := range from {
		j, ok := index[strings.Join(path, ".")]
		if !ok {
			return nil, fmt.Errorf("incompatible schema: no column %s", strings.Join(path, "."))
		}
		perm[i] = j
	}

	rows := make([]parquet.Row, len(t.Rows))
	for i, row := range t.Rows {
		out := make(parquet.Row, len(row))
		for k, v := range row {
			out[k] = v.Level(v.RepetitionLevel(), v.DefinitionLevel(), perm[v.Column()])
		}
		// values of one repeated column keep their relative order
		slices.SortStableFunc(out, func(a, b parquet.Value) int {
			return cmp.Compare(a.Column(), b.Column())
		})
		rows[i] = out
	}
	return &Table{Schema: schema, Rows: rows}, nil
}

// WriteFile encodes the table to path with zstd compression.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := parquet.NewWriter(f, t.Schema, parquet.Compression(&parquet.Zstd))
	if _, err := w.WriteRows(t.Rows); err != nil {
		f.Close()
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("encode footer: %w", err)
	}
	return f.Close()
}
