// Package plan holds the Todo list a workflow request is decomposed into.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ListStatus is the lifecycle state of a TodoList.
type ListStatus string

const (
	ListDraft     ListStatus = "draft"
	ListRunning   ListStatus = "running"
	ListPaused    ListStatus = "paused"
	ListCompleted ListStatus = "completed"
	ListFailed    ListStatus = "failed"
)

// ItemStatus is the state of one TodoItem.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemRunning     ItemStatus = "running"
	ItemWaitingUser ItemStatus = "waiting_user"
	ItemCompleted   ItemStatus = "completed"
	ItemFailed      ItemStatus = "failed"
)

// Terminal reports whether the item has resolved.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// Active reports whether the item is the one the executor is on.
func (s ItemStatus) Active() bool {
	return s == ItemRunning || s == ItemWaitingUser
}

// validListTransitions defines allowed TodoList status changes.
var validListTransitions = map[ListStatus][]ListStatus{
	ListDraft:   {ListRunning},
	ListRunning: {ListPaused, ListCompleted, ListFailed},
	ListPaused:  {ListRunning, ListFailed},
}

// validItemTransitions defines allowed TodoItem status changes.
var validItemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:     {ItemRunning},
	ItemRunning:     {ItemWaitingUser, ItemCompleted, ItemFailed},
	ItemWaitingUser: {ItemRunning, ItemCompleted, ItemFailed},
}

// TransitionList returns nil if from→to is a legal list transition.
func TransitionList(from, to ListStatus) error {
	return transition(validListTransitions, from, to)
}

// TransitionItem returns nil if from→to is a legal item transition.
func TransitionItem(from, to ItemStatus) error {
	return transition(validItemTransitions, from, to)
}

func transition[S ~string](table map[S][]S, from, to S) error {
	allowed, ok := table[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// TodoItem is one natural-language step.
type TodoItem struct {
	ID     string     `json:"id"`
	Text   string     `json:"text"`
	Status ItemStatus `json:"status"`
}

// TodoList is a plan owned by one conversation.
type TodoList struct {
	ID            string      `json:"id"`
	Goal          string      `json:"goal"`
	Items         []*TodoItem `json:"items"`
	TotalSteps    int         `json:"totalSteps"`
	CurrentStep   int         `json:"currentStep"`
	Status        ListStatus  `json:"status"`
	UserConfirmed bool        `json:"userConfirmed"`
	HasStarted    bool        `json:"hasStarted"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// New builds a draft list with one pending item per step.
func New(goal string, steps []string) *TodoList {
	now := time.Now()
	l := &TodoList{
		ID:         uuid.New().String(),
		Goal:       goal,
		Items:      make([]*TodoItem, len(steps)),
		TotalSteps: len(steps),
		Status:     ListDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, s := range steps {
		l.Items[i] = &TodoItem{ID: fmt.Sprintf("step-%d", i+1), Text: s, Status: ItemPending}
	}
	return l
}

// SetStatus moves the list to status to.
func (l *TodoList) SetStatus(to ListStatus) error {
	if err := TransitionList(l.Status, to); err != nil {
		return err
	}
	l.Status = to
	l.UpdatedAt = time.Now()
	return nil
}

// SetItemStatus moves item i to status to. Starting an item advances
// CurrentStep; CurrentStep never moves backwards.
func (l *TodoList) SetItemStatus(i int, to ItemStatus) error {
	if i < 0 || i >= len(l.Items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	it := l.Items[i]
	if err := TransitionItem(it.Status, to); err != nil {
		return fmt.Errorf("%s: %w", it.ID, err)
	}
	it.Status = to
	if to == ItemRunning && i > l.CurrentStep {
		l.CurrentStep = i
	}
	l.UpdatedAt = time.Now()
	return nil
}

// NextIndex returns the first unresolved item, or -1.
func (l *TodoList) NextIndex() int {
	for i, it := range l.Items {
		if !it.Status.Terminal() {
			return i
		}
	}
	return -1
}

// ActiveCount returns the number of items that are running or waiting.
func (l *TodoList) ActiveCount() int {
	n := 0
	for _, it := range l.Items {
		if it.Status.Active() {
			n++
		}
	}
	return n
}

// Index returns the position of the item with id, or -1.
func (l *TodoList) Index(id string) int {
	for i, it := range l.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Waiting returns the item waiting for user input, if any.
func (l *TodoList) Waiting() (*TodoItem, bool) {
	for _, it := range l.Items {
		if it.Status == ItemWaitingUser {
			return it, true
		}
	}
	return nil, false
}

// Counts returns how many items completed and failed.
func (l *TodoList) Counts() (completed, failed int) {
	for _, it := range l.Items {
		switch it.Status {
		case ItemCompleted:
			completed++
		case ItemFailed:
			failed++
		}
	}
	return completed, failed
}

// Complete marks the list completed and forces every item that has not
// failed to completed.
func (l *TodoList) Complete() {
	for _, it := range l.Items {
		if it.Status != ItemFailed {
			it.Status = ItemCompleted
		}
	}
	l.Status = ListCompleted
	if l.CurrentStep < l.TotalSteps {
		l.CurrentStep = l.TotalSteps
	}
	l.UpdatedAt = time.Now()
}

// Clone returns a deep copy.
func (l *TodoList) Clone() *TodoList {
	if l == nil {
		return nil
	}
	c := *l
	c.Items = make([]*TodoItem, len(l.Items))
	for i, it := range l.Items {
		cp := *it
		c.Items[i] = &cp
	}
	return &c
}

var statusMarks = map[ItemStatus]string{
	ItemPending:     "⬜",
	ItemRunning:     "⏳",
	ItemWaitingUser: "❓",
	ItemCompleted:   "✅",
	ItemFailed:      "❌",
}

// Render formats the list as numbered lines with a status mark each.
func (l *TodoList) Render() string {
	completed, failed := l.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "计划：%s（%d/%d，%s）\n", l.Goal, completed+failed, l.TotalSteps, l.Status)
	for i, it := range l.Items {
		fmt.Fprintf(&b, "%s %d. %s\n", statusMarks[it.Status], i+1, it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
