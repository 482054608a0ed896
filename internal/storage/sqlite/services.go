package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/log"
)

const defaultLimit = 100

// relation is a child table joined on one of its columns.
type relation struct {
	table  string
	column string
}

// Table serves one domain table as a core.DataService. Records are keyed by
// id and can also be looked up by name.
type Table struct {
	db        *sql.DB
	name      string
	columns   []string
	relations map[string]relation
}

func (t *Table) Name() string { return t.name }

func NewTerminals(db *sql.DB) *Table {
	return &Table{
		db:      db,
		name:    "terminals",
		columns: []string{"id", "name", "stands", "status", "summary"},
		relations: map[string]relation{
			"stands":      {table: "stands", column: "terminal"},
			"maintenance": {table: "maintenance", column: "terminal"},
			"flights":     {table: "flights", column: "terminal"},
		},
	}
}

func NewStands(db *sql.DB) *Table {
	return &Table{
		db:      db,
		name:    "stands",
		columns: []string{"id", "name", "terminal", "status", "stand_type", "max_aircraft", "summary"},
		relations: map[string]relation{
			"maintenance": {table: "maintenance", column: "stand"},
			"flights":     {table: "flights", column: "stand"},
		},
	}
}

func NewMaintenance(db *sql.DB) *Table {
	return &Table{
		db:      db,
		name:    "maintenance",
		columns: []string{"id", "name", "terminal", "stand", "status", "starts_at", "ends_at", "summary"},
	}
}

func NewFlights(db *sql.DB) *Table {
	return &Table{
		db:      db,
		name:    "flights",
		columns: []string{"id", "name", "terminal", "stand", "time_period", "aircraft", "passengers", "summary"},
	}
}

func NewAirportConfig(db *sql.DB) *Table {
	return &Table{
		db:      db,
		name:    "airport_config",
		columns: []string{"id", "name", "value", "summary"},
	}
}

// Services returns every domain data service of db.
func Services(db *sql.DB) []core.DataService {
	return []core.DataService{
		NewTerminals(db),
		NewStands(db),
		NewMaintenance(db),
		NewFlights(db),
		NewAirportConfig(db),
	}
}

// candidates returns the lowercase forms a lookup value may take: as given,
// and with its entity prefix removed ("Terminal A" -> "a").
func candidates(value string) []string {
	v := strings.ToLower(strings.TrimSpace(value))
	out := []string{v}
	for _, p := range []string{"terminal ", "stand ", "flight ", "gate "} {
		if after, ok := strings.CutPrefix(v, p); ok && after != "" {
			out = append(out, strings.TrimSpace(after))
		}
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (t *Table) GetByID(ctx context.Context, id string) (core.Record, error) {
	vals := candidates(id)
	args := make([]any, 0, 2*len(vals))
	for _, v := range vals {
		args = append(args, v)
	}
	args = append(args, args...)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(id) IN (%s) OR lower(name) IN (%s) ORDER BY id LIMIT 1`,
		strings.Join(t.columns, ", "), t.name, placeholders(len(vals)), placeholders(len(vals)))

	records, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", t.name, id, core.ErrNotFound)
	}
	return records[0], nil
}

// ListWithFilter returns records whose columns match every filter value,
// case-insensitively. Unknown filter columns are rejected.
func (t *Table) ListWithFilter(ctx context.Context, filter map[string]any, limit int) ([]core.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		where []string
		args  []any
	)
	for _, col := range sortedColumns(filter) {
		if !slices.Contains(t.columns, col) {
			return nil, fmt.Errorf("%w: %s has no column %q", core.ErrInvalidParameters, t.name, col)
		}
		vals := candidates(fmt.Sprint(filter[col]))
		where = append(where, fmt.Sprintf("lower(CAST(%s AS TEXT)) IN (%s)", col, placeholders(len(vals))))
		for _, v := range vals {
			args = append(args, v)
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(t.columns, ", "), t.name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	return t.query(ctx, query, args...)
}

// GetRelated returns the child records of the record id through relation.
func (t *Table) GetRelated(ctx context.Context, id, relationName string) ([]core.Record, error) {
	rel, ok := t.relations[relationName]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no relation %q", core.ErrUnsupported, t.name, relationName)
	}

	parent, err := t.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	child := &Table{db: t.db, name: rel.table}
	child.columns, err = t.tableColumns(ctx, rel.table)
	if err != nil {
		return nil, err
	}
	return child.ListWithFilter(ctx, map[string]any{rel.column: parent["id"]}, defaultLimit)
}

func (t *Table) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("%w: columns of %s: %v", core.ErrUpstream, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (t *Table) query(ctx context.Context, query string, args ...any) ([]core.Record, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", core.ErrUpstream, t.name, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrUpstream, t.name, err)
	}

	log.FromCtx(ctx).Debug().Str("source", t.name).Int("count", len(records)).Msg("loaded records")
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]core.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []core.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec := make(core.Record, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case nil:
				continue
			case []byte:
				rec[c] = string(v)
			default:
				rec[c] = v
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func sortedColumns(filter map[string]any) []string {
	cols := make([]string, 0, len(filter))
	for c := range filter {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Notes returns the free-text notes used to seed the similarity index.
func Notes(ctx context.Context, db *sql.DB) ([]core.Record, error) {
	t := &Table{db: db, name: "notes"}
	return t.query(ctx, `SELECT id, source, content FROM notes ORDER BY id`)
}
