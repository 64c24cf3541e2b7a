package tabular

import (
	"fmt"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// TypeMismatch is a field present on both sides with different types.
type TypeMismatch struct {
	Field string
	Left  string
	Right string
}

// SchemaDiff is the structural difference between two schemas. Missing
// fields are on the left only, Extra fields on the right only.
type SchemaDiff struct {
	Missing        []string
	Extra          []string
	TypeMismatches []TypeMismatch
}

func (d SchemaDiff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.TypeMismatches) == 0
}

// Issues renders the diff with the left side as the original data.
func (d SchemaDiff) Issues() []string {
	var issues []string
	if len(d.Missing) > 0 {
		issues = append(issues, fmt.Sprintf("Fields missing in combined: %v", d.Missing))
	}
	if len(d.Extra) > 0 {
		issues = append(issues, fmt.Sprintf("Extra fields in combined: %v", d.Extra))
	}
	for _, m := range d.TypeMismatches {
		issues = append(issues, fmt.Sprintf("Field '%s' type mismatch: %s vs %s", m.Field, m.Left, m.Right))
	}
	return issues
}

// CompareSchemas compares top-level fields by name, then the types of the
// fields both sides share. Results are sorted by field name.
func CompareSchemas(left, right *parquet.Schema) SchemaDiff {
	l := fieldTypes(left)
	r := fieldTypes(right)

	var diff SchemaDiff
	for name, lt := range l {
		rt, ok := r[name]
		if !ok {
			diff.Missing = append(diff.Missing, name)
			continue
		}
		if lt != rt {
			diff.TypeMismatches = append(diff.TypeMismatches, TypeMismatch{Field: name, Left: lt, Right: rt})
		}
	}
	for name := range r {
		if _, ok := l[name]; !ok {
			diff.Extra = append(diff.Extra, name)
		}
	}

	slices.Sort(diff.Missing)
	slices.Sort(diff.Extra)
	slices.SortFunc(diff.TypeMismatches, func(a, b TypeMismatch) int {
		return strings.Compare(a.Field, b.Field)
	})
	return diff
}

func fieldTypes(schema *parquet.Schema) map[string]string {
	out := make(map[string]string)
	for _, f := range schema.Fields() {
		out[f.Name()] = describe(f)
	}
	return out
}

// describe renders a node's type including repetition and nested fields.
func describe(node parquet.Node) string {
	var b strings.Builder
	switch {
	case node.Repeated():
		b.WriteString("repeated ")
	case node.Optional():
		b.WriteString("optional ")
	}

	if node.Leaf() {
		b.WriteString(node.Type().String())
		return b.String()
	}

	// nested fields are matched by name, like top-level ones
	fields := slices.Clone(node.Fields())
	slices.SortFunc(fields, func(a, b parquet.Field) int {
		return strings.Compare(a.Name(), b.Name())
	})
	b.WriteString("group{")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name())
		b.WriteString(": ")
		b.WriteString(describe(f))
	}
	b.WriteString("}")
	return b.String()
}
