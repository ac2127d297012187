// Package table maps versioned models to rows of a SQL table and renders
// the statements the generic SQL repositories run.
//
// Every table has the columns id and version followed by the data columns
// of its Mapper. Writes return the stored row so repositories hand back the
// model as persisted.
package table

import (
	"fmt"
	"strings"

	"github.com/codewandler/uow-go/core/domain"
)

// Row is a scannable result row; *sql.Row, *sql.Rows and pgx.Row all satisfy it.
type Row interface {
	Scan(dest ...any) error
}

// Mapper converts models of type M to and from rows.
type Mapper[M domain.Persistable[M]] interface {
	Table() string
	// Columns lists the data columns, without id and version.
	Columns() []string
	// Values returns the data column values of m in Columns order.
	Values(m M) ([]any, error)
	// Scan reads a row of id, version and the data columns into a
	// persisted model.
	Scan(row Row) (M, error)
}

// Dialect renders placeholders.
type Dialect int

const (
	// Question uses "?" placeholders (SQLite).
	Question Dialect = iota
	// Dollar uses "$n" placeholders (PostgreSQL).
	Dollar
)

func (d Dialect) placeholder(n int) string {
	if d == Dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Statements holds the rendered statements of one table.
//
// Insert takes (id, data...), Update takes (data..., id, expected version)
// and Select takes (id). Insert and Update return the stored row.
type Statements struct {
	Table  string
	Select string
	Insert string
	Update string
}

// Render renders the statements for table with the given data columns.
func Render(d Dialect, table string, columns []string) Statements {
	all := append([]string{"id", "version"}, columns...)
	quoted := make([]string, len(all))
	for i, c := range all {
		quoted[i] = Quote(c)
	}
	returning := strings.Join(quoted, ", ")
	t := Quote(table)

	n := 0
	next := func() string {
		n++
		return d.placeholder(n)
	}

	values := []string{next(), "1"}
	for range columns {
		values = append(values, next())
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", t, returning, strings.Join(values, ", "), returning)

	n = 0
	sets := []string{`"version" = "version" + 1`}
	for _, c := range columns {
		sets = append(sets, Quote(c)+" = "+next())
	}
	update := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = %s AND "version" = %s RETURNING %s`,
		t, strings.Join(sets, ", "), next(), next(), returning)

	sel := fmt.Sprintf(`SELECT %s FROM %s WHERE "id" = %s`, returning, t, d.placeholder(1))

	return Statements{Table: table, Select: sel, Insert: insert, Update: update}
}

// Quote quotes an identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// InsertArgs returns the arguments of Statements.Insert for m.
func InsertArgs[M domain.Persistable[M]](mp Mapper[M], m M) ([]any, error) {
	vals, err := mp.Values(m)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mp.Table(), err)
	}
	return append([]any{m.ModelID().String()}, vals...), nil
}

// UpdateArgs returns the arguments of Statements.Update for m.
func UpdateArgs[M domain.Persistable[M]](mp Mapper[M], m M) ([]any, error) {
	vals, err := mp.Values(m)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mp.Table(), err)
	}
	return append(vals, m.ModelID().String(), int64(m.EntityState().Version())), nil
}

// Scan is a helper for Mapper implementations: it scans id and version
// followed by dest and returns the id and version read.
func Scan(row Row, dest ...any) (id string, v domain.Version, err error) {
	var version int64
	if err = row.Scan(append([]any{&id, &version}, dest...)...); err != nil {
		return "", 0, err
	}
	return id, domain.Version(version), nil
}
