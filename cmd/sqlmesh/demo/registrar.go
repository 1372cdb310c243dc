package demo

import (
	"context"
	"fmt"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/runner"
)

// Registrar wires the demo agent set. Each agent type is named after the
// topic it subscribes to.
type Registrar struct{}

// Compile-time check.
var _ runner.Registrar = Registrar{}

// RegisterAll implements runner.Registrar.
func (Registrar) RegisterAll(_ context.Context, rt core.Runtime, deps runner.Deps) error {
	agents := map[core.TopicType]func(b base) core.Agent{
		core.TopicSchemaRetriever:          func(b base) core.Agent { return &schemaRetriever{b} },
		core.TopicQueryAnalyzer:            func(b base) core.Agent { return &queryAnalyzer{b} },
		core.TopicSQLGenerator:             func(b base) core.Agent { return &sqlGenerator{b} },
		core.TopicSQLExplainer:             func(b base) core.Agent { return &sqlExplainer{b} },
		core.TopicSQLExecutor:              func(b base) core.Agent { return &sqlExecutor{b} },
		core.TopicVisualizationRecommender: func(b base) core.Agent { return &visualizationRecommender{b} },
	}

	for _, topic := range Topics() {
		newAgent := agents[topic]
		agentType := string(topic)
		if err := rt.RegisterFactory(agentType, func(_ context.Context, id core.AgentID) (core.Agent, error) {
			return newAgent(base{id: id, deps: deps}), nil
		}); err != nil {
			return fmt.Errorf("failed to register %s: %w", agentType, err)
		}
		if err := rt.AddSubscription(core.Subscription{TopicType: topic, AgentType: agentType}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", agentType, err)
		}
	}
	return nil
}

// Topics returns the topics of the demo graph in pipeline order.
func Topics() []core.TopicType {
	return []core.TopicType{
		core.TopicSchemaRetriever,
		core.TopicQueryAnalyzer,
		core.TopicSQLGenerator,
		core.TopicSQLExplainer,
		core.TopicSQLExecutor,
		core.TopicVisualizationRecommender,
	}
}
