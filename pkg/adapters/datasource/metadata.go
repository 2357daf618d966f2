package datasource

// TableMeta describes a table or collection visible through an adapter.
type TableMeta struct {
	Schema  string       `json:"schema,omitempty"`
	Name    string       `json:"name"`
	Columns []ColumnMeta `json:"columns"`
}

// QualifiedName returns schema.name, or name when there is no schema.
func (t TableMeta) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// GroupColumns folds (schema, table, column, type) rows, as returned by
// information_schema style queries ordered by table, into TableMeta values.
func GroupColumns(rows [][4]string) []TableMeta {
	var tables []TableMeta
	for _, r := range rows {
		n := len(tables)
		if n == 0 || tables[n-1].Schema != r[0] || tables[n-1].Name != r[1] {
			tables = append(tables, TableMeta{Schema: r[0], Name: r[1]})
			n++
		}
		tables[n-1].Columns = append(tables[n-1].Columns, ColumnMeta{Name: r[2], Type: r[3]})
	}
	return tables
}
