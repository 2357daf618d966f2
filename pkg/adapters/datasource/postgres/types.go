package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// typeName resolves a column's type OID through the connection's type map,
// so extension and domain types registered on the connection keep their names.
func typeName(m *pgtype.Map, oid uint32) string {
	if m == nil {
		m = pgtype.NewMap()
	}
	t, ok := m.TypeForOID(oid)
	if !ok {
		return "UNKNOWN"
	}
	return strings.ToUpper(t.Name)
}
