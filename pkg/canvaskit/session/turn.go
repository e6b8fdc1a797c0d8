package session

import "fmt"

// Turn is the state of the current question/answer round. It is one of
// Idle, Pending, Streaming, Settled or Failed.
type Turn interface {
	// Active reports whether a turn is in flight and blocks new submissions.
	Active() bool
	fmt.Stringer
	turn()
}

// Idle means no turn has started in this conversation.
type Idle struct{}

// Pending means the question is sent and no answer content has arrived.
type Pending struct {
	QuestionID string
	AnswerID   string

	// Status is the latest running-status text, if any.
	Status string
}

// Streaming means answer content is arriving.
type Streaming struct {
	QuestionID string
	AnswerID   string
	Partial    string
	Status     string
}

// Settled means the answer completed.
type Settled struct {
	QuestionID string
	AnswerID   string
	Final      string
}

// Failed means the turn ended with an error. A turn that failed after
// content arrived keeps its partial answer in the message list.
type Failed struct {
	QuestionID string
	Reason     error
}

func (Idle) Active() bool      { return false }
func (Pending) Active() bool   { return true }
func (Streaming) Active() bool { return true }
func (Settled) Active() bool   { return false }
func (Failed) Active() bool    { return false }

func (Idle) String() string      { return "idle" }
func (Pending) String() string   { return "pending" }
func (Streaming) String() string { return "streaming" }
func (Settled) String() string   { return "settled" }
func (Failed) String() string    { return "failed" }

func (Idle) turn()      {}
func (Pending) turn()   {}
func (Streaming) turn() {}
func (Settled) turn()   {}
func (Failed) turn()    {}
