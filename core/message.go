package core

// TopicType names a pub/sub channel that agents subscribe to.
type TopicType string

const (
	// TopicSchemaRetriever is the single entry point of every pipeline run.
	// The driver publishes exactly one QueryMessage here.
	TopicSchemaRetriever TopicType = "schema_retriever"
	// TopicQueryAnalyzer receives the query enriched with schema context.
	TopicQueryAnalyzer TopicType = "query_analyzer"
	// TopicSQLGenerator receives the analysis and produces SQL.
	TopicSQLGenerator TopicType = "sql_generator"
	// TopicSQLExplainer receives generated SQL for a human readable explanation.
	TopicSQLExplainer TopicType = "sql_explainer"
	// TopicSQLExecutor receives SQL to run against the resolved DataAccess.
	TopicSQLExecutor TopicType = "sql_executor"
	// TopicVisualizationRecommender receives execution results.
	TopicVisualizationRecommender TopicType = "visualization_recommender"
	// TopicStreamOutput is used by agents that forward output to the collector.
	TopicStreamOutput TopicType = "stream_output"
)

// SystemSource is the Source used for messages produced by the pipeline itself
// rather than by an agent.
const SystemSource = "system"

// QueryMessage is the initiating message of a run. It is constructed once and
// never mutated afterwards.
type QueryMessage struct {
	Query        string `json:"query"`
	ConnectionID *int64 `json:"connection_id,omitempty"`
}

// NewQueryMessage builds a QueryMessage. connectionID may be nil.
func NewQueryMessage(query string, connectionID *int64) QueryMessage {
	var id *int64
	if connectionID != nil {
		v := *connectionID
		id = &v
	}
	return QueryMessage{Query: query, ConnectionID: id}
}

// ResponseMessage is a (partial or final) piece of output streamed towards
// the caller. Ordering within one Source is arrival order; there is no
// ordering guarantee across sources.
type ResponseMessage struct {
	Source  string `json:"source"`
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
	// Region optionally tells a UI where the content belongs (analysis, sql, ...).
	Region string `json:"region,omitempty"`
	// Result optionally carries structured data such as query rows.
	Result any `json:"result,omitempty"`
}

// NewSystemErrorMessage returns the synthetic final message emitted when a
// pipeline run fails.
func NewSystemErrorMessage(err error) ResponseMessage {
	return ResponseMessage{
		Source:  SystemSource,
		Content: "processing error: " + err.Error(),
		IsFinal: true,
	}
}

// ConnectionIDPtr is a small helper for optional connection ids.
func ConnectionIDPtr(id int64) *int64 { return &id }
