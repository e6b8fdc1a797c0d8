// Package session is the chat state machine for one conversation.
//
// A Session owns the message list, the draft text and the current turn,
// and guarantees at most one turn in flight. Every mutation, whether from
// the caller or from the goroutine reading the answer stream, goes through
// one mutex. Deltas that arrive after the conversation changed, or after
// their turn was abandoned, are dropped.
package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/attachment"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/stream"
)

// Deltas is an open answer stream.
type Deltas interface {
	Next(ctx context.Context) (stream.Delta, error)
	Close() error
}

// Runner opens the answer stream for one run.
type Runner interface {
	Run(ctx context.Context, p api.RunParams) (Deltas, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, p api.RunParams) (Deltas, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, p api.RunParams) (Deltas, error) {
	return f(ctx, p)
}

// AttachmentSource is the input surface's attachment list.
type AttachmentSource interface {
	Uploading() bool
	Images() []api.Image
	Take() (attachment.Handoff, error)
	SetConversation(id string)
}

// Submission is the content of one send.
type Submission struct {
	Text        string
	DocumentIDs []string
	Images      []api.Image
}

// Session is safe for concurrent use.
type Session struct {
	runner   Runner
	canvasID string
	cfg      sessionConfig

	mu             sync.Mutex
	conversationID string
	messages       []Message
	draft          string
	turn           Turn
	epoch          uint64
	cancel         context.CancelFunc
	settled        chan struct{}
	prologue       *string
	closed         bool
}

// New creates a session for canvasID scoped to conversationID.
func New(runner Runner, canvasID, conversationID string, opts ...Option) *Session {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		runner:         runner,
		canvasID:       canvasID,
		cfg:            cfg,
		conversationID: conversationID,
		turn:           Idle{},
	}
}

// ConversationID returns the conversation the session is scoped to.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns a copy of the message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyMessages()
}

func (s *Session) copyMessages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// State returns the current turn.
func (s *Session) State() Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// Done reports whether no turn is in flight.
func (s *Session) Done() bool {
	return !s.State().Active()
}

// SetDraft stores the unsent input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// Draft returns the unsent input text.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// AddNewestQuestion appends an optimistic user message with a fresh id and
// moves the session to Pending. It returns false, changing nothing, while
// a turn is in flight.
func (s *Session) AddNewestQuestion(content string, attachments []Attachment) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.turn.Active() {
		return Message{}, false
	}
	q := s.addQuestionLocked(Message{Content: content, Attachments: attachments})
	return q.clone(), true
}

func (s *Session) addQuestionLocked(q Message) Message {
	q.ID = uuid.NewString()
	q.Role = RoleUser
	s.messages = append(s.messages, q)
	s.settled = make(chan struct{})
	s.setTurnLocked(Pending{QuestionID: q.ID, AnswerID: uuid.NewString()})
	s.publishMessagesLocked()
	return q
}

// AddNewestAnswer merges answer content into the message with a.ID,
// appending it if absent. Delivering the same payload twice leaves one
// message; the last payload wins. The first delivery moves a Pending turn
// to Streaming and a Done delivery settles it. The reference is attached
// only on settlement.
func (s *Session) AddNewestAnswer(a Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addAnswerLocked(a)
}

func (s *Session) addAnswerLocked(a Answer) {
	i := slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == a.ID })
	if i < 0 {
		s.messages = append(s.messages, Message{ID: a.ID, Role: RoleAssistant})
		i = len(s.messages) - 1
	}
	msg := &s.messages[i]
	msg.Content = a.Content
	if a.Done && len(a.Reference) > 0 {
		msg.Reference = slices.Clone(a.Reference)
	}
	s.publishMessagesLocked()

	switch t := s.turn.(type) {
	case Pending:
		if a.Done {
			s.settleLocked(Settled{QuestionID: t.QuestionID, AnswerID: a.ID, Final: a.Content})
			return
		}
		s.setTurnLocked(Streaming{QuestionID: t.QuestionID, AnswerID: a.ID, Partial: a.Content, Status: t.Status})
	case Streaming:
		if a.Done {
			s.settleLocked(Settled{QuestionID: t.QuestionID, AnswerID: a.ID, Final: a.Content})
			return
		}
		t.Partial = a.Content
		s.setTurnLocked(t)
	case Settled:
		if t.AnswerID == a.ID {
			t.Final = a.Content
			s.setTurnLocked(t)
		}
	}
}

// RemoveLatestMessage drops the last message.
func (s *Session) RemoveLatestMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	s.messages = s.messages[:len(s.messages)-1]
	s.afterRemovalLocked()
}

// RemoveMessageByID drops one message and reports whether it existed.
func (s *Session) RemoveMessageByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	s.afterRemovalLocked()
	return true
}

// RemoveMessagesAfterCurrentMessage keeps every message up to and including
// id and drops the rest. Unknown ids change nothing.
func (s *Session) RemoveMessagesAfterCurrentMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
	if i < 0 || i == len(s.messages)-1 {
		return
	}
	s.messages = slices.Clone(s.messages[:i+1])
	s.afterRemovalLocked()
}

// afterRemovalLocked abandons the active turn if its question is gone.
func (s *Session) afterRemovalLocked() {
	s.publishMessagesLocked()
	var qid string
	switch t := s.turn.(type) {
	case Pending:
		qid = t.QuestionID
	case Streaming:
		qid = t.QuestionID
	default:
		return
	}
	if !slices.ContainsFunc(s.messages, func(m Message) bool { return m.ID == qid }) {
		s.abortLocked()
		s.settleLocked(Idle{})
	}
}

// Submit sends one turn. It fails with ErrBusy while a turn is in flight or
// an attachment is uploading, and with ErrEmpty when there is neither text
// nor an image to send. Otherwise it appends the optimistic question, opens
// the answer stream and returns the question id; the answer arrives in the
// background. If the stream cannot be opened the question is removed, the
// draft restored, and a *TurnError returned.
func (s *Session) Submit(ctx context.Context, sub Submission) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.turn.Active() {
		s.mu.Unlock()
		return "", ErrBusy
	}
	src := s.cfg.attachments
	if src != nil && src.Uploading() {
		s.mu.Unlock()
		return "", ErrBusy
	}
	text := strings.TrimSpace(sub.Text)
	if text == "" && len(sub.Images) == 0 && (src == nil || len(src.Images()) == 0) {
		s.mu.Unlock()
		return "", ErrEmpty
	}
	if src != nil {
		h, err := src.Take()
		if err != nil {
			s.mu.Unlock()
			return "", ErrBusy
		}
		sub.DocumentIDs = append(sub.DocumentIDs, h.DocumentIDs...)
		sub.Images = append(sub.Images, h.Images...)
	}

	var attachments []Attachment
	for _, img := range sub.Images {
		attachments = append(attachments, Attachment{Name: img.Name, URL: img.Data})
	}
	q := s.addQuestionLocked(Message{
		Content:     text,
		Attachments: attachments,
		DocumentIDs: slices.Clone(sub.DocumentIDs),
	})
	pending := s.turn.(Pending)
	epoch := s.epoch
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	deltas, err := s.runner.Run(runCtx, api.RunParams{
		CanvasID:    s.canvasID,
		Message:     text,
		MessageID:   q.ID,
		DocumentIDs: sub.DocumentIDs,
		Images:      sub.Images,
	})
	if err != nil {
		cancel()
		return "", s.rollback(epoch, q.ID, sub.Text, err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		_ = deltas.Close()
		cancel()
		return q.ID, nil
	}
	s.mu.Unlock()

	go s.consume(runCtx, cancel, epoch, pending, sub.Text, deltas)
	return q.ID, nil
}

// rollback undoes an optimistic question after a failed send.
func (s *Session) rollback(epoch uint64, questionID, draft string, cause error) error {
	terr := &TurnError{QuestionID: questionID, Err: cause}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return terr
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].ID == questionID {
		s.messages = s.messages[:n-1]
		s.publishMessagesLocked()
	}
	s.draft = draft
	s.cancel = nil
	s.settleLocked(Failed{QuestionID: questionID, Reason: terr})
	logger := observability.EnrichLogger(s.cfg.logger, s.canvasID, s.conversationID)
	observability.LogTurnRollback(logger, questionID, cause)
	return terr
}

// consume feeds stream deltas into the session until the stream ends.
func (s *Session) consume(ctx context.Context, cancel context.CancelFunc, epoch uint64, p Pending, draft string, deltas Deltas) {
	defer cancel()
	defer deltas.Close()

	received := false
	for {
		d, err := deltas.Next(ctx)
		if err != nil {
			if !received {
				_ = s.rollback(epoch, p.QuestionID, draft, err)
				return
			}
			s.mu.Lock()
			if epoch == s.epoch {
				s.cancel = nil
				s.settleLocked(Failed{QuestionID: p.QuestionID, Reason: err})
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if d.RunningStatus {
			s.statusLocked(d.Status)
			s.mu.Unlock()
			continue
		}
		received = true
		s.addAnswerLocked(Answer{ID: p.AnswerID, Content: d.Answer, Reference: d.Reference, Done: d.Done})
		if d.Done {
			s.cancel = nil
		}
		s.mu.Unlock()
		if d.Done {
			return
		}
	}
}

func (s *Session) statusLocked(status string) {
	switch t := s.turn.(type) {
	case Pending:
		t.Status = status
		s.setTurnLocked(t)
	case Streaming:
		t.Status = status
		s.setTurnLocked(t)
	}
}

// Wait blocks until no turn is in flight or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	if !s.turn.Active() {
		s.mu.Unlock()
		return nil
	}
	ch := s.settled
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prologue fetches the Begin node's greeting by running the canvas with no
// message. The result is cached per conversation and, when the message
// list is empty, shown as the first assistant message.
func (s *Session) Prologue(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.prologue != nil {
		text := *s.prologue
		s.mu.Unlock()
		return text, nil
	}
	if s.turn.Active() {
		s.mu.Unlock()
		return "", ErrBusy
	}
	epoch := s.epoch
	s.mu.Unlock()

	deltas, err := s.runner.Run(ctx, api.RunParams{CanvasID: s.canvasID})
	if err != nil {
		return "", err
	}
	defer deltas.Close()

	var final stream.Delta
	for {
		d, err := deltas.Next(ctx)
		if err != nil {
			return "", err
		}
		if d.Done {
			final = d
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return final.Answer, nil
	}
	text := final.Answer
	s.prologue = &text
	if len(s.messages) == 0 && text != "" {
		s.messages = append(s.messages, Message{ID: uuid.NewString(), Role: RoleAssistant, Content: text})
		s.publishMessagesLocked()
	}
	return text, nil
}

// SetConversation switches the session to another conversation. The
// message list, draft, turn and attachments are reset; an in-flight stream
// is aborted and anything it still delivers is ignored.
func (s *Session) SetConversation(id string) {
	s.mu.Lock()
	s.abortLocked()
	s.conversationID = id
	s.messages = nil
	s.draft = ""
	s.prologue = nil
	s.settleLocked(Idle{})
	s.publishMessagesLocked()
	src := s.cfg.attachments
	s.mu.Unlock()

	if src != nil {
		src.SetConversation(id)
	}
}

// Close aborts any in-flight turn. Later submissions fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.abortLocked()
	if s.turn.Active() {
		s.settleLocked(Idle{})
	}
	return nil
}

// abortLocked invalidates the running turn's stream.
func (s *Session) abortLocked() {
	s.epoch++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) setTurnLocked(t Turn) {
	s.turn = t
	_ = s.cfg.events.Publish(context.Background(), event.New(event.TypeTurnChanged, s.conversationID, t))
}

// settleLocked moves to an inactive turn and releases waiters.
func (s *Session) settleLocked(t Turn) {
	s.setTurnLocked(t)
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func (s *Session) publishMessagesLocked() {
	_ = s.cfg.events.Publish(context.Background(), event.New(event.TypeMessagesChanged, s.conversationID, s.copyMessages()))
}

// IsTurnError reports whether err is a rolled-back send.
func IsTurnError(err error) bool {
	var terr *TurnError
	return errors.As(err, &terr)
}
