package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/capassist/internal/core"
)

func newTestDB(t *testing.T) *Table {
	t.Helper()
	db, err := NewDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTerminals(db)
}

func TestNewDB_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "domain.db")

	db, err := NewDB(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening must not seed twice
	db, err = NewDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	recs, err := NewTerminals(db).ListWithFilter(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestTable_GetByID(t *testing.T) {
	ctx := context.Background()
	terminals := newTestDB(t)

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "id", id: "A", want: "A"},
		{name: "lowercase id", id: "b", want: "B"},
		{name: "name", id: "Terminal A", want: "A"},
		{name: "prefixed id", id: "terminal b", want: "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := terminals.GetByID(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec["id"])
		})
	}

	rec, err := terminals.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec["stands"])
	assert.Equal(t, "Terminal A has 20 stands.", rec["summary"])

	_, err = terminals.GetByID(ctx, "Terminal Z")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTable_ListWithFilter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t).db

	maintenance := NewMaintenance(db)
	recs, err := maintenance.ListWithFilter(ctx, map[string]any{"terminal": "Terminal A"}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "M1", recs[0]["id"])
	assert.Equal(t, "M2", recs[1]["id"])

	recs, err = NewStands(db).ListWithFilter(ctx, map[string]any{"terminal": "A", "status": "AVAILABLE"}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A1", recs[0]["id"])

	recs, err = NewFlights(db).ListWithFilter(ctx, map[string]any{"passengers": 150}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "CA310", recs[0]["name"])

	recs, err = NewStands(db).ListWithFilter(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = maintenance.ListWithFilter(ctx, map[string]any{"terminal": "Z"}, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = maintenance.ListWithFilter(ctx, map[string]any{"color": "red"}, 10)
	assert.ErrorIs(t, err, core.ErrInvalidParameters)
}

func TestTable_GetRelated(t *testing.T) {
	ctx := context.Background()
	terminals := newTestDB(t)

	stands, err := terminals.GetRelated(ctx, "Terminal A", "stands")
	require.NoError(t, err)
	assert.Len(t, stands, 4)

	work, err := NewStands(terminals.db).GetRelated(ctx, "Stand A3", "maintenance")
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "Stand A3 closed for resurfacing.", work[0]["summary"])

	_, err = terminals.GetRelated(ctx, "A", "runways")
	assert.ErrorIs(t, err, core.ErrUnsupported)

	_, err = terminals.GetRelated(ctx, "Z", "stands")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestServices(t *testing.T) {
	db := newTestDB(t).db

	var names []string
	for _, svc := range Services(db) {
		names = append(names, svc.Name())
	}
	assert.Equal(t, []string{"terminals", "stands", "maintenance", "flights", "airport_config"}, names)

	notes, err := Notes(context.Background(), db)
	require.NoError(t, err)
	assert.Len(t, notes, 3)
	assert.Equal(t, "ops_manual", notes[0]["source"])
}
