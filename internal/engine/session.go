package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/provider"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

// ChatStore is the remote message store the session reconciles against.
type ChatStore interface {
	GetChat(ctx context.Context, chatID, userID int64) (*store.ChatDetail, []store.Message, error)
	CreateMessage(ctx context.Context, chatID int64, text string, isBot, isMain bool) (*store.Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID int64, patch store.MessagePatch) error
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error
}

// Direction is a swipe gesture over the current turn's bot alternates.
type Direction string

const (
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
	Regenerate Direction = "regen"
)

var ErrChatNotLoaded = errors.New("chat not loaded, call Refresh first")

// Session owns the state of one open chat view. All state changes go through
// the Apply reducer under one lock; at most one generation is in flight.
type Session struct {
	ChatID    int64
	User      store.User
	Settings  settings.Settings
	Store     ChatStore
	Generator provider.Generator

	// OnUpdate observes every state change. OnScroll fires when the
	// in-progress reply grows past its previous extent. OnError reports
	// failures of the generation path before the refetch. All optional.
	OnUpdate func(State)
	OnScroll func()
	OnError  func(error)

	mu         sync.Mutex
	state      State
	chat       *store.ChatDetail
	generating bool
}

func NewSession(chatID int64, user store.User, st settings.Settings, cs ChatStore, gen provider.Generator) *Session {
	return &Session{ChatID: chatID, User: user, Settings: st, Store: cs, Generator: gen}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Chat() *store.ChatDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// CanEdit reports whether the viewing user owns the chat. Public chats are
// readable by anyone but only the owner may generate, edit or delete.
func (s *Session) CanEdit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat != nil && s.chat.UserID == s.User.ID
}

func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

func (s *Session) dispatch(a Action) {
	s.mu.Lock()
	s.state = Apply(s.state, a)
	next := s.state
	cb := s.OnUpdate
	s.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

func (s *Session) scroll() {
	if s.OnScroll != nil {
		s.OnScroll()
	}
}

func (s *Session) beginGeneration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return false
	}
	s.generating = true
	return true
}

func (s *Session) endGeneration() {
	s.mu.Lock()
	s.generating = false
	s.mu.Unlock()
}

// Refresh replaces local state with the remote store's view of the chat.
// This is both the initial load and the self-healing path after errors.
func (s *Session) Refresh(ctx context.Context) error {
	detail, messages, err := s.Store.GetChat(ctx, s.ChatID, s.User.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh chat %d: %w", s.ChatID, err)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	wrapped := make([]Message, 0, len(messages))
	for _, m := range messages {
		wrapped = append(wrapped, FromStored(m))
	}

	s.mu.Lock()
	s.chat = detail
	s.mu.Unlock()

	s.dispatch(SetMessages{Messages: wrapped})
	if detail != nil && detail.UserID == s.User.ID {
		s.scroll()
	}
	return nil
}

// fail reports the error and forces a full resynchronization so no phantom
// local messages survive a half-applied turn.
func (s *Session) fail(ctx context.Context, err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		log.Printf("Refresh after failed generation also failed for chat %d: %v", s.ChatID, refreshErr)
	}
}

// SendMessage runs one full user turn: promote the selected alternate of the
// previous turn, persist the user message while the reply streams in, then
// persist and merge the reply. A second call while one turn is in flight is
// a no-op.
func (s *Session) SendMessage(ctx context.Context, input string) error {
	input = strings.TrimRight(input, " \t\r\n")
	if !s.Settings.Ready() || input == "" {
		return nil
	}
	if !s.beginGeneration() {
		return nil
	}
	defer s.endGeneration()

	chat := s.Chat()
	if chat == nil {
		return ErrChatNotLoaded
	}

	snapshot := s.State()
	botChoices := snapshot.BotChoices()

	// Promote the selected alternate of the previous turn and drop its
	// siblings, locally first, remotely best-effort.
	history := append([]Message(nil), snapshot.Messages...)
	if snapshot.ChoiceIndex < len(botChoices) {
		keep := botChoices[snapshot.ChoiceIndex]
		for i := range history {
			if history[i].Ref == keep.Ref {
				history[i].IsMain = true
			}
		}
		if keep.Ref.Confirmed() {
			go func(id int64) {
				isMain := true
				if err := s.Store.UpdateMessage(context.WithoutCancel(ctx), s.ChatID, id, store.MessagePatch{IsMain: &isMain}); err != nil {
					log.Printf("Failed to promote message %d in chat %d: %v", id, s.ChatID, err)
				}
			}(keep.Ref.ID)
		}
	}
	var siblingIDs []int64
	for i, choice := range botChoices {
		if i != snapshot.ChoiceIndex && choice.Ref.Confirmed() {
			siblingIDs = append(siblingIDs, choice.Ref.ID)
		}
	}
	if len(siblingIDs) > 0 {
		go func() {
			if err := s.Store.DeleteMessages(context.WithoutCancel(ctx), s.ChatID, siblingIDs); err != nil {
				log.Printf("Failed to delete %d unchosen alternates in chat %d: %v", len(siblingIDs), s.ChatID, err)
			}
		}()
	}

	var mainOnly []Message
	for _, m := range history {
		if m.IsMain {
			mainOnly = append(mainOnly, m)
		}
	}

	localUser := Message{Ref: NewLocalRef(), ChatID: s.ChatID, IsMain: true, Text: input}
	localBot := s.placeholder(chat)

	s.dispatch(SetMessages{Messages: mainOnly})
	s.dispatch(NewClientMessages{Messages: []Message{localUser, localBot}})
	s.dispatch(SetIndex{Index: 0})
	s.scroll()

	// Persist the user message in parallel with generation; the result is
	// collected after the stream drains.
	type createResult struct {
		msg *store.Message
		err error
	}
	userDone := make(chan createResult, 1)
	go func() {
		msg, err := s.Store.CreateMessage(context.WithoutCancel(ctx), s.ChatID, input, false, true)
		userDone <- createResult{msg: msg, err: err}
	}()

	p := s.Generator.BuildPrompt(input, s.User, *chat, storedHistory(history), s.Settings)
	stream := s.Generator.Generate(ctx, p, s.Settings)

	buffer, err := s.consume(ctx, stream, localUser, localBot, chat)
	if err != nil {
		s.fail(ctx, err)
		return err
	}

	userResult := <-userDone
	if userResult.err != nil {
		err := fmt.Errorf("failed to store user message: %w", userResult.err)
		s.fail(ctx, err)
		return err
	}
	confirmed := []Message{FromStored(*userResult.msg)}

	if buffer != "" {
		botMsg, err := s.Store.CreateMessage(ctx, s.ChatID, buffer, true, false)
		if err != nil {
			err = fmt.Errorf("failed to store bot message: %w", err)
			s.fail(ctx, err)
			return err
		}
		confirmed = append(confirmed, FromStored(*botMsg))
	}
	s.dispatch(NewServerMessages{Messages: confirmed})
	return nil
}

// Swipe navigates the current turn's bot alternates. Moves inside the
// existing alternates are pure index changes; moving past the end, or regen,
// streams a new alternate and appends it as the newest sibling.
func (s *Session) Swipe(ctx context.Context, direction Direction) error {
	snapshot := s.State()
	botChoices := snapshot.BotChoices()

	delta := map[Direction]int{SwipeLeft: -1, Regenerate: 0, SwipeRight: 1}[direction]
	newIndex := snapshot.ChoiceIndex + delta

	if newIndex < 0 {
		return nil
	}
	if newIndex < len(botChoices) {
		s.dispatch(SetIndex{Index: newIndex})
		return nil
	}
	if !s.CanEdit() {
		return nil
	}
	if !s.beginGeneration() {
		return nil
	}
	defer s.endGeneration()

	chat := s.Chat()
	if chat == nil {
		return ErrChatNotLoaded
	}

	prevIndex := snapshot.ChoiceIndex
	localBot := s.placeholder(chat)

	s.dispatch(SetIndex{Index: newIndex})
	s.dispatch(NewClientMessages{Messages: []Message{localBot}})
	s.scroll()

	// Reuse the last user message as the seed and regenerate from the
	// history before it.
	var seed *Message
	for i := len(snapshot.ToDisplay) - 1; i >= 0; i-- {
		if !snapshot.ToDisplay[i].IsBot {
			seed = &snapshot.ToDisplay[i]
			break
		}
	}
	if seed == nil {
		s.dispatch(SetIndex{Index: prevIndex})
		return errors.New("no user message to regenerate from")
	}

	var history []Message
	for _, m := range snapshot.Messages {
		if m.Ref.Confirmed() && m.Ref.ID < seed.Ref.ID {
			history = append(history, m)
		}
	}

	p := s.Generator.BuildPrompt(seed.Text, s.User, *chat, storedHistory(history), s.Settings)
	stream := s.Generator.Generate(ctx, p, s.Settings)

	buffer, err := s.consume(ctx, stream, Message{}, localBot, chat)
	if err != nil {
		s.fail(ctx, err)
		s.dispatch(SetIndex{Index: prevIndex})
		return err
	}

	if buffer != "" {
		botMsg, err := s.Store.CreateMessage(ctx, s.ChatID, buffer, true, false)
		if err != nil {
			err = fmt.Errorf("failed to store bot message: %w", err)
			s.fail(ctx, err)
			s.dispatch(SetIndex{Index: prevIndex})
			return err
		}
		s.dispatch(NewServerMessages{Messages: []Message{FromStored(*botMsg)}})
	} else {
		s.dispatch(NewServerMessages{Messages: nil})
	}
	return nil
}

// consume drains the stream, reflecting each fragment into the placeholder
// bot message. Returns the raw accumulated reply; display text gets the
// persona substitutions applied.
func (s *Session) consume(ctx context.Context, stream *provider.Stream, localUser, localBot Message, chat *store.ChatDetail) (string, error) {
	buffer := ""
	lastExtent := 0
	for fragment := range stream.Fragments() {
		buffer += fragment
		localBot.Text = prompt.FormatReply(buffer, s.User.Name, chat.Character.Name)

		update := []Message{localBot}
		if localUser.Ref != (Ref{}) {
			update = []Message{localUser, localBot}
		}
		s.dispatch(NewClientMessages{Messages: update})

		if len(localBot.Text) > lastExtent {
			lastExtent = len(localBot.Text)
			s.scroll()
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return buffer, nil
}

// EditMessage rewrites a confirmed message's text. The local update is
// immediate; the remote patch is best effort and failures are only logged.
func (s *Session) EditMessage(ctx context.Context, m Message, newText string) {
	m.Text = newText
	s.dispatch(MessageEdited{Message: m})

	if !m.Ref.Confirmed() {
		return
	}
	go func() {
		if err := s.Store.UpdateMessage(context.WithoutCancel(ctx), s.ChatID, m.Ref.ID, store.MessagePatch{Text: &newText}); err != nil {
			log.Printf("Failed to persist edit of message %d in chat %d: %v", m.Ref.ID, s.ChatID, err)
		}
	}()
}

// DeleteMessage removes the target plus every later message and every
// non-canonical alternate, then resynchronizes. Pending messages are not
// deletable; they vanish on the next refresh anyway.
func (s *Session) DeleteMessage(ctx context.Context, ref Ref) error {
	if !ref.Confirmed() {
		return nil
	}

	var ids []int64
	for _, m := range s.State().Messages {
		if m.Ref.ID >= ref.ID || !m.IsMain {
			ids = append(ids, m.Ref.ID)
		}
	}
	if err := s.Store.DeleteMessages(ctx, s.ChatID, ids); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return s.Refresh(ctx)
}

func (s *Session) placeholder(chat *store.ChatDetail) Message {
	return Message{
		Ref:    NewLocalRef(),
		ChatID: s.ChatID,
		IsBot:  true,
		Text:   fmt.Sprintf("%s is replying...", chat.Character.Name),
	}
}

func storedHistory(history []Message) []store.Message {
	out := make([]store.Message, 0, len(history))
	for _, m := range history {
		out = append(out, m.stored())
	}
	return out
}
