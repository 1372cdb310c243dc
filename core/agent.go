package core

import (
	"context"
	"fmt"
)

// DefaultTopicSource is the topic source used when a publisher does not
// scope a topic to a particular key.
const DefaultTopicSource = "default"

// AgentID identifies one agent instance inside a runtime. Type selects the
// registered factory and Key distinguishes instances of the same type (it
// mirrors the source of the topic that caused the instantiation).
type AgentID struct{ Type, Key string }

// String implements fmt.Stringer.
func (id AgentID) String() string { return fmt.Sprintf("%s/%s", id.Type, id.Key) }

// TopicID addresses a publish. Type is matched against subscriptions and
// Source scopes the agent instances that receive the message.
type TopicID struct {
	Type   TopicType
	Source string
}

// NewTopicID returns a TopicID for the default source.
func NewTopicID(t TopicType) TopicID { return TopicID{Type: t, Source: DefaultTopicSource} }

// String implements fmt.Stringer.
func (t TopicID) String() string { return fmt.Sprintf("%s/%s", t.Type, t.Source) }

// Subscription routes every message published on TopicType to AgentType.
type Subscription struct {
	TopicType TopicType
	AgentType string
}

// Agent is a pub/sub participant. Agents handle one message at a time; the
// runtime never calls OnMessage concurrently.
type Agent interface {
	ID() AgentID
	OnMessage(mctx *MessageContext, message any) error
}

// AgentFactory instantiates an agent for id. It is called lazily, the first
// time a message is routed to id.
type AgentFactory func(ctx context.Context, id AgentID) (Agent, error)

// Publisher publishes messages to topics.
type Publisher interface {
	Publish(ctx context.Context, message any, topic TopicID) error
}

// MessageContext is handed to Agent.OnMessage. It carries the run context
// and lets the agent publish follow-up messages through the same runtime.
type MessageContext struct {
	context.Context
	// MessageID uniquely identifies the delivered message.
	MessageID string
	// Topic is the topic the message was published on.
	Topic TopicID
	// Sender is set when the message was published from inside another agent.
	Sender *AgentID
	// Recipient is the agent handling the message.
	Recipient AgentID

	publisher Publisher
}

// NewMessageContext creates a MessageContext bound to publisher.
func NewMessageContext(ctx context.Context, messageID string, topic TopicID, sender *AgentID, recipient AgentID, publisher Publisher) *MessageContext {
	return &MessageContext{
		Context:   ctx,
		MessageID: messageID,
		Topic:     topic,
		Sender:    sender,
		Recipient: recipient,
		publisher: publisher,
	}
}

// Publish publishes message on topic with the handling agent as sender.
func (m *MessageContext) Publish(message any, topic TopicID) error {
	if m.publisher == nil {
		return fmt.Errorf("message context has no publisher")
	}
	sender := m.Recipient
	return m.publisher.Publish(WithSender(m.Context, sender), message, topic)
}

type senderKey struct{}

// WithSender annotates ctx with the publishing agent.
func WithSender(ctx context.Context, id AgentID) context.Context {
	return context.WithValue(ctx, senderKey{}, id)
}

// SenderFromContext returns the publishing agent stored by WithSender.
func SenderFromContext(ctx context.Context) (AgentID, bool) {
	id, ok := ctx.Value(senderKey{}).(AgentID)
	return id, ok
}

// Runtime is the pub/sub runtime contract the pipeline driver relies on.
//
// Lifecycle: register factories and subscriptions, Start, Publish, then
// either StopWhenIdle (drain) or Stop (abort), and finally Close. Close must
// be safe to call on every exit path, including before Start.
type Runtime interface {
	Publisher
	RegisterFactory(agentType string, factory AgentFactory) error
	AddSubscription(sub Subscription) error
	Start(ctx context.Context) error
	StopWhenIdle(ctx context.Context) error
	Stop() error
	Close(ctx context.Context) error
}
