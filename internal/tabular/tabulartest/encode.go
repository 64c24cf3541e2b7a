// Package tabulartest builds Parquet payloads for tests.
package tabulartest

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"
)

// Record is the row type used across package tests.
type Record struct {
	ID   int64   `parquet:"id"`
	Name string  `parquet:"name"`
	Note *string `parquet:"note,optional"`
}

// NarrowRecord drops the note column and narrows id.
type NarrowRecord struct {
	ID   int32  `parquet:"id"`
	Name string `parquet:"name"`
}

// ReorderedRecord has the fields of Record in a different column order.
type ReorderedRecord struct {
	Note *string `parquet:"note,optional"`
	Name string  `parquet:"name"`
	ID   int64   `parquet:"id"`
}

// Encode writes rows as a Parquet payload.
func Encode[T any](tb testing.TB, rows []T) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		tb.Fatalf("encode parquet: %v", err)
	}
	return buf.Bytes()
}

// Decode reads a Parquet payload into rows of T.
func Decode[T any](tb testing.TB, data []byte) []T {
	tb.Helper()
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("decode parquet: %v", err)
	}
	return rows
}

// Records builds records with sequential names from ids.
func Records(ids ...int64) []Record {
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = Record{ID: id, Name: string(rune('a' + id%26))}
	}
	return out
}

// Reordered builds the same records as Records with the columns reordered.
func Reordered(ids ...int64) []ReorderedRecord {
	out := make([]ReorderedRecord, len(ids))
	for i, r := range Records(ids...) {
		out[i] = ReorderedRecord{ID: r.ID, Name: r.Name, Note: r.Note}
	}
	return out
}
