package demo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqlmesh/collector"
	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/internal/testutil"
	"github.com/hupe1980/sqlmesh/registry"
	"github.com/hupe1980/sqlmesh/resolver"
	"github.com/hupe1980/sqlmesh/runner"
)

func seededStore(t *testing.T) *registry.InMemoryStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	store := registry.NewInMemoryStore(testutil.NewConnectionRecordBuilder(1).SQLite(path).Build())

	h, _ := resolver.New(store).Resolve(context.Background(), core.ConnectionIDPtr(1))
	defer h.Close()
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL)",
		"INSERT INTO orders (amount) VALUES (10.5), (20), (7)",
	} {
		_, err := h.Execute(context.Background(), stmt)
		require.NoError(t, err)
	}
	return store
}

func run(t *testing.T, store core.ConnectionRegistry, query string, id *int64) *testutil.RecordingCallback {
	t.Helper()
	rec := &testutil.RecordingCallback{}
	r := runner.New(resolver.New(store), Registrar{})
	require.NoError(t, r.Run(context.Background(), query, collector.New(rec.Callback), id, true))
	return rec
}

func TestPipeline_CountQuestion(t *testing.T) {
	rec := run(t, seededStore(t), "How many orders are there?", core.ConnectionIDPtr(1))

	sql := rec.FromSource(string(core.TopicSQLGenerator))
	require.NotEmpty(t, sql)
	assert.Equal(t, `SELECT COUNT(*) AS count FROM "orders"`, sql[0].Content)

	data := rec.FromSource(string(core.TopicSQLExecutor))
	require.Len(t, data, 1)
	assert.True(t, data[0].IsFinal)
	rows, ok := data[0].Result.(*core.Rows)
	require.True(t, ok)
	assert.EqualValues(t, 3, rows.Values[0][0])

	viz := rec.FromSource(string(core.TopicVisualizationRecommender))
	require.Len(t, viz, 1)
	assert.Equal(t, "number", viz[0].Content)

	feedback := rec.FromSource(string(core.TopicSQLGenerator))
	assert.Len(t, feedback, 2, "user feedback prompt is flushed at the end of the run")
}

func TestPipeline_DisabledStore(t *testing.T) {
	rec := run(t, registry.NewInMemoryStore(), "list tables", core.ConnectionIDPtr(99))

	data := rec.FromSource(string(core.TopicSQLExecutor))
	require.Len(t, data, 1)
	assert.Contains(t, data[0].Content, "data store not configured")
	assert.NotEmpty(t, rec.Finals())

	schema := rec.FromSource(string(core.TopicSchemaRetriever))
	require.Len(t, schema, 1)
	assert.Contains(t, schema[0].Content, "schema unavailable")
}

func TestAnalyze(t *testing.T) {
	tables := []string{"orders", "users"}
	tests := []struct {
		query  string
		intent string
		table  string
	}{
		{"select * from users", "sql", ""},
		{"list tables", "list_tables", ""},
		{"count users please", "count", "users"},
		{"give me some orders", "preview", "orders"},
		{"what is the weather", "unknown", ""},
		{"any ordersx here", "unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			an := Analyze(tt.query, tables)
			assert.Equal(t, tt.intent, an.Intent)
			assert.Equal(t, tt.table, an.Table)
		})
	}
}

func TestGenerate_QuotesPerDialect(t *testing.T) {
	an := Analysis{Intent: "preview", Table: "order items"}
	assert.Equal(t, "SELECT * FROM `order items` LIMIT 10", Generate(an, core.DBTypeMySQL))
	assert.Equal(t, `SELECT * FROM "order items" LIMIT 10`, Generate(an, core.DBTypePostgreSQL))
	assert.Empty(t, Generate(Analysis{Intent: "unknown"}, core.DBTypeSQLite))
}

func TestRecommend(t *testing.T) {
	assert.Equal(t, "none", Recommend(nil))
	assert.Equal(t, "number", Recommend(&core.Rows{Columns: []string{"n"}, Values: [][]any{{int64(1)}}}))
	assert.Equal(t, "bar", Recommend(&core.Rows{Columns: []string{"k", "v"}, Values: [][]any{{"a", 1.5}}}))
	assert.Equal(t, "table", Recommend(&core.Rows{Columns: []string{"a", "b", "c"}, Values: [][]any{{"a", "b", "c"}}}))
}
