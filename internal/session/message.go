package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/launchbox/internal/executor"
)

// Role is the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Affordance is a UI action offered alongside a message.
type Affordance string

const (
	AffordanceStartPlan     Affordance = "start_plan"
	AffordanceForceContinue Affordance = "force_continue"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Thinking  string    `json:"thinking,omitempty"`
	// IsThinking marks a placeholder whose content is still streaming.
	IsThinking bool `json:"isThinking,omitempty"`
	// IsSystemMessage marks UI-only messages that are never sent to the LLM.
	IsSystemMessage  bool                   `json:"isSystemMessage,omitempty"`
	ExecutionResults []*executor.StepResult `json:"executionResults,omitempty"`
	ImageURL         string                 `json:"imageUrl,omitempty"`
	ImageData        string                 `json:"imageData,omitempty"`
	// AwaitingStepID is set on a question that the next user message answers.
	AwaitingStepID string     `json:"awaitingStepId,omitempty"`
	Affordance     Affordance `json:"affordance,omitempty"`
}

func newMessage(role Role, text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func systemMessage(text string) *Message {
	m := newMessage(RoleAgent, text)
	m.IsSystemMessage = true
	return m
}

func (m *Message) clone() *Message {
	c := *m
	c.ExecutionResults = append([]*executor.StepResult(nil), m.ExecutionResults...)
	return &c
}

// Conversation is the ordered message list of one conversation.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Info summarizes a stored conversation.
type Info struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Route names the path a user message took.
type Route string

const (
	RouteCommand    Route = "command"
	RouteStepInput  Route = "step_input"
	RouteTextAnswer Route = "text_answer"
	RouteToolCall   Route = "tool_call"
	RouteWorkflow   Route = "workflow"
	RouteClarify    Route = "clarify"
)

// Sentinel errors.
var (
	ErrEmptyMessage         = errors.New("empty message")
	ErrNoPlan               = errors.New("conversation has no plan")
	ErrPlanRunning          = errors.New("plan is already running")
	ErrPlanFinished         = errors.New("plan has finished")
	ErrConversationNotFound = errors.New("conversation not found")
)
