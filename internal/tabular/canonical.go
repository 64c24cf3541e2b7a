package tabular

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	gocmp "github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"
)

// ComparisonError is an unexpected failure while diffing two tables.
type ComparisonError struct {
	Err error
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("comparison error: %v", e.Err)
}

func (e *ComparisonError) Unwrap() error { return e.Err }

// Canonical returns a copy of t with rows sorted by every column. Rows that
// compare equal are identical, so the order is fully determined by content.
func (t *Table) Canonical() *Table {
	rows := slices.Clone(t.Rows)
	slices.SortFunc(rows, CompareRows)
	return &Table{Schema: t.Schema, Rows: rows}
}

// Digest hashes the rows of t in their current order. Call it on a
// canonical table for an order-independent content digest.
func (t *Table) Digest() string {
	h := xxhash.New()
	var scratch []byte
	for _, row := range t.Rows {
		scratch = binary.LittleEndian.AppendUint32(scratch[:0], uint32(len(row)))
		for _, v := range row {
			scratch = appendValue(scratch, v)
		}
		_, _ = h.Write(scratch)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// CompareRows orders rows value by value.
func CompareRows(a, b parquet.Row) int {
	for i := range min(len(a), len(b)) {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareValues(a, b parquet.Value) int {
	if c := cmp.Compare(a.Column(), b.Column()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RepetitionLevel(), b.RepetitionLevel()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DefinitionLevel(), b.DefinitionLevel()); c != 0 {
		return c
	}

	an, bn := a.IsNull(), b.IsNull()
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}

	switch a.Kind() {
	case parquet.Boolean:
		return cmp.Compare(boolInt(a.Boolean()), boolInt(b.Boolean()))
	case parquet.Int32:
		return cmp.Compare(a.Int32(), b.Int32())
	case parquet.Int64:
		return cmp.Compare(a.Int64(), b.Int64())
	case parquet.Int96:
		x, y := a.Int96(), b.Int96()
		return slices.Compare(x[:], y[:])
	case parquet.Float:
		if c := cmp.Compare(a.Float(), b.Float()); c != 0 {
			return c
		}
		// -0 and +0, or distinct NaN payloads
		return cmp.Compare(math.Float32bits(a.Float()), math.Float32bits(b.Float()))
	case parquet.Double:
		if c := cmp.Compare(a.Double(), b.Double()); c != 0 {
			return c
		}
		return cmp.Compare(math.Float64bits(a.Double()), math.Float64bits(b.Double()))
	default:
		return bytes.Compare(a.ByteArray(), b.ByteArray())
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func appendValue(b []byte, v parquet.Value) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(v.Column()))
	b = append(b, byte(v.RepetitionLevel()), byte(v.DefinitionLevel()))
	if v.IsNull() {
		return append(b, 0)
	}
	b = append(b, 1, byte(v.Kind()))

	switch v.Kind() {
	case parquet.Boolean:
		return append(b, byte(boolInt(v.Boolean())))
	case parquet.Int32:
		return binary.LittleEndian.AppendUint32(b, uint32(v.Int32()))
	case parquet.Int64:
		return binary.LittleEndian.AppendUint64(b, uint64(v.Int64()))
	case parquet.Int96:
		for _, w := range v.Int96() {
			b = binary.LittleEndian.AppendUint32(b, w)
		}
		return b
	case parquet.Float:
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(v.Float()))
	case parquet.Double:
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Double()))
	default:
		data := v.ByteArray()
		b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
		return append(b, data...)
	}
}

// DiffRows compares the canonical forms of left and right row by row and
// returns a go-cmp diff cut to limit bytes, or "" when they are equal.
func DiffRows(left, right *Table, limit int) (diff string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ComparisonError{Err: fmt.Errorf("%v", r)}
		}
	}()

	l := renderRows(left.Canonical())
	r := renderRows(right.Canonical())
	return Truncate(gocmp.Diff(l, r), limit), nil
}

// renderRows turns rows into comparable cells labelled with column paths.
func renderRows(t *Table) [][]string {
	columns := t.Schema.Columns()
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			name := strconv.Itoa(v.Column())
			if c := v.Column(); c >= 0 && c < len(columns) {
				name = strings.Join(columns[c], ".")
			}
			cells[j] = name + "=" + formatValue(v)
		}
		out[i] = cells
	}
	return out
}

func formatValue(v parquet.Value) string {
	if v.IsNull() {
		return "null"
	}
	switch v.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case parquet.Int96:
		return fmt.Sprint(v.Int96())
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	default:
		return strconv.Quote(string(v.ByteArray()))
	}
}

// Truncate cuts s to at most limit bytes on a rune boundary, marking the
// cut with "...".
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
