package types

import (
	"strconv"
	"strings"
)

// SchemaVersion is bumped whenever the dataset layout or value domains change.
const SchemaVersion = 1

// Schema defines the structure of a generated dataset file.
type Schema struct {
	// Version tracks schema evolution so stale dataset files can be detected
	Version int `json:"version"`

	// Columns defines the columns in file order
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name as written in the CSV header
	Name string `json:"name"`

	// Type is the logical type: INTEGER, REAL, TEXT
	Type string `json:"type"`
}

// DatasetSchema returns the schema of generated dataset files.
func DatasetSchema() Schema {
	return Schema{
		Version: SchemaVersion,
		Columns: []ColumnDef{
			{Name: "id", Type: "INTEGER"},
			{Name: "category", Type: "TEXT"},
			{Name: "numeric1", Type: "REAL"},
			{Name: "numeric2", Type: "INTEGER"},
			{Name: "text", Type: "TEXT"},
		},
	}
}

// Header returns the column names in file order.
func (s Schema) Header() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Signature returns a canonical textual form of the schema, e.g.
// "v1|id:INTEGER,category:TEXT,...".
func (s Schema) Signature() string {
	var b strings.Builder
	b.WriteString("v")
	b.WriteString(strconv.Itoa(s.Version))
	b.WriteString("|")
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(c.Name)
		b.WriteString(":")
		b.WriteString(c.Type)
	}
	return b.String()
}
