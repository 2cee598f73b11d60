package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/avolkovs/termvault/internal/server/schema"
)

// sqlStore implements the CRUD half of Store on top of database/sql, shared
// by both backends. Identifiers reaching the SQL text come exclusively from
// the validated catalog; caller-supplied column names are rejected unless
// declared there.
type sqlStore struct {
	db          *sql.DB
	catalog     schema.Catalog
	placeholder func(n int) string // 1-based argument position
}

func (s *sqlStore) Insert(ctx context.Context, table string, values schema.Record) (schema.Record, error) {
	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	cols, args, err := sortedColumns(t, values)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("insert into %s: no columns", table)
	}

	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = s.placeholder(i + 1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		t.Name, strings.Join(cols, ", "), strings.Join(marks, ", "),
	)

	rows, err := s.queryRecords(ctx, t, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("insert into %s: expected 1 returned row, got %d", table, len(rows))
	}

	return rows[0], nil
}

func (s *sqlStore) Select(ctx context.Context, table string, q Query) ([]schema.Record, error) {
	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", t.Name)

	args, err := s.appendWhere(&sb, t, q.Where, 0)
	if err != nil {
		return nil, err
	}

	if q.OrderBy != "" {
		if !t.HasColumn(q.OrderBy) {
			return nil, fmt.Errorf("select from %s: unknown order column %q", table, q.OrderBy)
		}
		fmt.Fprintf(&sb, " ORDER BY %s", q.OrderBy)
		if q.Desc {
			sb.WriteString(" DESC")
		}
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	records, err := s.queryRecords(ctx, t, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return records, nil
}

func (s *sqlStore) Update(ctx context.Context, table string, where schema.Where, values schema.Record) ([]schema.Record, error) {
	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("update %s: empty predicate", table)
	}

	cols, args, err := sortedColumns(t, values)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("update %s: no columns", table)
	}

	// The primary key is immutable once assigned.
	for _, col := range cols {
		if col == t.Key {
			return nil, fmt.Errorf("update %s: key column %q cannot be updated", table, t.Key)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", t.Name)
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = %s", col, s.placeholder(i+1))
	}

	whereArgs, err := s.appendWhere(&sb, t, where, len(cols))
	if err != nil {
		return nil, err
	}
	sb.WriteString(" RETURNING *")

	records, err := s.queryRecords(ctx, t, sb.String(), append(args, whereArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return records, nil
}

func (s *sqlStore) Delete(ctx context.Context, table string, where schema.Where) ([]schema.Record, error) {
	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("delete from %s: empty predicate", table)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s", t.Name)

	args, err := s.appendWhere(&sb, t, where, 0)
	if err != nil {
		return nil, err
	}
	sb.WriteString(" RETURNING *")

	records, err := s.queryRecords(ctx, t, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", table, err)
	}
	return records, nil
}

func (s *sqlStore) DeleteBefore(ctx context.Context, table string, column string, cutoff any) ([]schema.Record, error) {
	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("delete from %s: unknown column %q", table, column)
	}
	if cutoff == nil {
		return nil, fmt.Errorf("delete from %s: nil cutoff", table)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s <= %s RETURNING *", t.Name, column, s.placeholder(1))

	records, err := s.queryRecords(ctx, t, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", table, err)
	}
	return records, nil
}

// appendWhere writes the WHERE clause for the predicate and returns its
// argument values. offset is the number of placeholders already used.
func (s *sqlStore) appendWhere(sb *strings.Builder, t schema.Table, where schema.Where, offset int) ([]any, error) {
	if len(where) == 0 {
		return nil, nil
	}

	cols := make([]string, 0, len(where))
	for col := range where {
		if !t.HasColumn(col) {
			return nil, fmt.Errorf("table %s: unknown predicate column %q", t.Name, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	sb.WriteString(" WHERE ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		if where[col] == nil {
			fmt.Fprintf(sb, "%s IS NULL", col)
			continue
		}
		fmt.Fprintf(sb, "%s = %s", col, s.placeholder(offset+len(args)+1))
		args = append(args, where[col])
	}

	return args, nil
}

func (s *sqlStore) queryRecords(ctx context.Context, t schema.Table, query string, args ...any) ([]schema.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]schema.Record, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		scan := make([]any, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}

		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}

		rec := make(schema.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalize(values[i])
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// sortedColumns validates values against the table and returns column names
// in deterministic order with their argument values.
func sortedColumns(t schema.Table, values schema.Record) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for col := range values {
		if !t.HasColumn(col) {
			return nil, nil, fmt.Errorf("table %s: unknown column %q", t.Name, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = values[col]
	}
	return cols, args, nil
}

// normalize maps driver byte slices to strings so records compare cleanly
// across backends. BLOB columns in the governed schema hold text anyway
// (salts and verifiers are hex/base64 on the wire before they get here).
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
