// Package demo contains a deterministic agent set used by the sqlmesh CLI.
//
// The agents follow the real pipeline topology (schema retrieval, analysis,
// generation, explanation, execution, visualization) but replace model calls
// with keyword heuristics, which makes the pipeline observable end to end
// without any external service.
package demo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/runner"
)

// Output regions.
const (
	RegionSchema        = "schema"
	RegionAnalysis      = "analysis"
	RegionSQL           = "sql"
	RegionExplanation   = "explanation"
	RegionData          = "data"
	RegionVisualization = "visualization"
	RegionFeedback      = "feedback"
)

type base struct {
	id   core.AgentID
	deps runner.Deps
}

func (b *base) ID() core.AgentID { return b.id }

func (b *base) emit(ctx context.Context, msg core.ResponseMessage) error {
	msg.Source = b.id.Type
	return b.deps.Collector.Collect(ctx, &b.id, msg)
}

func (b *base) forward(mctx *core.MessageContext, message any, topic core.TopicType) error {
	return mctx.Publish(message, core.TopicID{Type: topic, Source: mctx.Topic.Source})
}

// schemaRetriever lists the tables of the run's data store.
type schemaRetriever struct{ base }

func (a *schemaRetriever) OnMessage(mctx *core.MessageContext, message any) error {
	q, ok := message.(core.QueryMessage)
	if !ok {
		return fmt.Errorf("schema retriever: unexpected message %T", message)
	}

	sc := SchemaContext{Query: q.Query}
	tables, err := listTables(mctx, a.deps.DataAccess)
	if err != nil {
		sc.Err = err
		if emitErr := a.emit(mctx, core.ResponseMessage{
			Content: "schema unavailable: " + err.Error(),
			Region:  RegionSchema,
		}); emitErr != nil {
			return emitErr
		}
	} else {
		sc.Tables = tables
		if emitErr := a.emit(mctx, core.ResponseMessage{
			Content: fmt.Sprintf("found %d tables: %s", len(tables), strings.Join(tables, ", ")),
			Region:  RegionSchema,
			IsFinal: true,
		}); emitErr != nil {
			return emitErr
		}
	}

	return a.forward(mctx, sc, core.TopicQueryAnalyzer)
}

func listTables(ctx context.Context, da core.DataAccess) ([]string, error) {
	var sql string
	switch da.DBType() {
	case core.DBTypeSQLite:
		sql = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case core.DBTypePostgreSQL:
		sql = "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name"
	default:
		sql = "SHOW TABLES"
	}

	rows, err := da.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, rows.Len())
	for _, row := range rows.Values {
		if len(row) > 0 {
			tables = append(tables, fmt.Sprint(row[0]))
		}
	}
	return tables, nil
}

var sqlStatement = regexp.MustCompile(`(?i)^\s*(select|with|show|pragma|explain|describe|insert|update|delete|create|drop)\b`)

// queryAnalyzer classifies the question.
type queryAnalyzer struct{ base }

func (a *queryAnalyzer) OnMessage(mctx *core.MessageContext, message any) error {
	sc, ok := message.(SchemaContext)
	if !ok {
		return fmt.Errorf("query analyzer: unexpected message %T", message)
	}

	an := Analyze(sc.Query, sc.Tables)
	if err := a.emit(mctx, core.ResponseMessage{
		Content: describe(an),
		Region:  RegionAnalysis,
		IsFinal: true,
	}); err != nil {
		return err
	}
	return a.forward(mctx, an, core.TopicSQLGenerator)
}

// Analyze derives an Analysis from a question and the known tables.
func Analyze(query string, tables []string) Analysis {
	an := Analysis{Query: query, Tables: tables, Intent: "unknown"}
	lower := strings.ToLower(query)

	switch {
	case sqlStatement.MatchString(query):
		an.Intent = "sql"
		an.SQL = strings.TrimSpace(query)
		return an
	case strings.Contains(lower, "tables"):
		an.Intent = "list_tables"
		return an
	}

	for _, t := range tables {
		if !containsWord(lower, strings.ToLower(t)) {
			continue
		}
		an.Table = t
		if strings.Contains(lower, "how many") || strings.Contains(lower, "count") {
			an.Intent = "count"
		} else {
			an.Intent = "preview"
		}
		return an
	}
	return an
}

func containsWord(s, word string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(s)
}

func describe(an Analysis) string {
	switch an.Intent {
	case "sql":
		return "the question is a SQL statement"
	case "list_tables":
		return "the question asks for the available tables"
	case "count":
		return fmt.Sprintf("the question counts rows of %s", an.Table)
	case "preview":
		return fmt.Sprintf("the question asks for rows of %s", an.Table)
	default:
		return "the question does not mention a known table"
	}
}

// sqlGenerator turns an Analysis into SQL.
type sqlGenerator struct{ base }

func (a *sqlGenerator) OnMessage(mctx *core.MessageContext, message any) error {
	an, ok := message.(Analysis)
	if !ok {
		return fmt.Errorf("sql generator: unexpected message %T", message)
	}

	sql := Generate(an, a.deps.DBType)
	if sql == "" {
		return a.emit(mctx, core.ResponseMessage{
			Content: "no SQL could be generated for this question",
			Region:  RegionSQL,
			IsFinal: true,
		})
	}

	if err := a.emit(mctx, core.ResponseMessage{Content: sql, Region: RegionSQL, IsFinal: true}); err != nil {
		return err
	}

	if a.deps.UserFeedbackEnabled {
		if err := a.emit(mctx, core.ResponseMessage{
			Content: "review the generated SQL before relying on the result",
			Region:  RegionFeedback,
		}); err != nil {
			return err
		}
	}

	gen := GeneratedSQL{Query: an.Query, SQL: sql}
	if err := a.forward(mctx, gen, core.TopicSQLExplainer); err != nil {
		return err
	}
	return a.forward(mctx, gen, core.TopicSQLExecutor)
}

// Generate returns SQL for an, or "" when the intent is unknown.
func Generate(an Analysis, dbType core.DBType) string {
	switch an.Intent {
	case "sql":
		return an.SQL
	case "list_tables":
		switch dbType {
		case core.DBTypeSQLite:
			return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
		case core.DBTypePostgreSQL:
			return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name"
		default:
			return "SHOW TABLES"
		}
	case "count":
		return fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", quoteIdent(an.Table, dbType))
	case "preview":
		return fmt.Sprintf("SELECT * FROM %s LIMIT 10", quoteIdent(an.Table, dbType))
	default:
		return ""
	}
}

func quoteIdent(name string, dbType core.DBType) string {
	if dbType == core.DBTypeMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlExplainer streams a short explanation of the SQL.
type sqlExplainer struct{ base }

func (a *sqlExplainer) OnMessage(mctx *core.MessageContext, message any) error {
	gen, ok := message.(GeneratedSQL)
	if !ok {
		return fmt.Errorf("sql explainer: unexpected message %T", message)
	}

	for _, part := range Explain(gen.SQL) {
		if err := a.emit(mctx, core.ResponseMessage{Content: part, Region: RegionExplanation}); err != nil {
			return err
		}
	}
	return nil
}

// Explain returns explanation fragments for sql.
func Explain(sql string) []string {
	upper := strings.ToUpper(sql)
	var parts []string
	switch {
	case strings.HasPrefix(upper, "SELECT COUNT"):
		parts = append(parts, "Counts the rows ")
	case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "WITH"):
		parts = append(parts, "Reads rows ")
	case strings.HasPrefix(upper, "SHOW"):
		parts = append(parts, "Lists database objects ")
	default:
		parts = append(parts, "Runs a statement ")
	}
	if i := strings.Index(upper, " FROM "); i >= 0 {
		rest := strings.Fields(sql[i+len(" FROM "):])
		if len(rest) > 0 {
			parts = append(parts, "from "+rest[0]+" ")
		}
	}
	if strings.Contains(upper, " LIMIT ") {
		parts = append(parts, "limited to a preview ")
	}
	return append(parts, ".")
}

// sqlExecutor runs the SQL through the run's DataAccess.
type sqlExecutor struct{ base }

func (a *sqlExecutor) OnMessage(mctx *core.MessageContext, message any) error {
	gen, ok := message.(GeneratedSQL)
	if !ok {
		return fmt.Errorf("sql executor: unexpected message %T", message)
	}

	rows, err := a.deps.DataAccess.Execute(mctx, gen.SQL)
	if err != nil {
		return a.emit(mctx, core.ResponseMessage{
			Content: "execution failed: " + err.Error(),
			Region:  RegionData,
			IsFinal: true,
		})
	}

	content := fmt.Sprintf("%d rows", rows.Len())
	if len(rows.Columns) == 0 {
		content = fmt.Sprintf("%d rows affected", rows.RowsAffected)
	}
	if err := a.emit(mctx, core.ResponseMessage{
		Content: content,
		Region:  RegionData,
		IsFinal: true,
		Result:  rows,
	}); err != nil {
		return err
	}
	return a.forward(mctx, ExecutionResult{SQL: gen.SQL, Rows: rows}, core.TopicVisualizationRecommender)
}

// visualizationRecommender picks a chart type for the result.
type visualizationRecommender struct{ base }

func (a *visualizationRecommender) OnMessage(mctx *core.MessageContext, message any) error {
	res, ok := message.(ExecutionResult)
	if !ok {
		return fmt.Errorf("visualization recommender: unexpected message %T", message)
	}
	return a.emit(mctx, core.ResponseMessage{
		Content: Recommend(res.Rows),
		Region:  RegionVisualization,
		IsFinal: true,
	})
}

// Recommend returns a chart type for rows.
func Recommend(rows *core.Rows) string {
	if rows.Len() == 0 {
		return "none"
	}
	if rows.Len() == 1 && len(rows.Columns) == 1 {
		return "number"
	}
	numeric := 0
	for _, v := range rows.Values[0] {
		switch v.(type) {
		case int, int32, int64, float32, float64:
			numeric++
		}
	}
	if len(rows.Columns) == 2 && numeric == 1 {
		return "bar"
	}
	return "table"
}
