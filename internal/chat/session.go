package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pliu/pairchat/internal/models"
	"github.com/pliu/pairchat/internal/store"
)

type sessionState int

const (
	stateConnected sessionState = iota
	stateRegistered
	stateClosed
)

// Session drives one connection through the
// request-username -> register -> chat -> disconnect lifecycle. All frames
// for a connection arrive from its single read goroutine, so the state
// fields need no lock of their own; the registry serializes the shared map.
type Session struct {
	id       string
	registry *Registry
	store    store.Store
	conn     Conn

	state   sessionState
	name    string
	history int
}

func NewSession(registry *Registry, st store.Store, conn Conn, historyLimit int) *Session {
	return &Session{
		id:       uuid.NewString(),
		registry: registry,
		store:    st,
		conn:     conn,
		history:  historyLimit,
	}
}

// Start opens the handshake by asking the client for a username. Call once,
// before the first HandleFrame.
func (s *Session) Start() {
	log.Info().Str("module", "chat").Str("conn", s.id).Msg("client connected")
	s.send(typeOnlyEvent{TypeRequestUsername})
}

// HandleFrame processes one inbound frame. Malformed or unknown frames are
// logged and dropped without a reply.
func (s *Session) HandleFrame(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Error().Err(err).Str("module", "chat").Str("conn", s.id).Msg("bad payload")
		return
	}

	switch in.Type {
	case TypeRegisterUsername:
		s.handleRegister(in.Username)
	case TypeChatMessage:
		s.handleChat(in.Message)
	default:
		log.Warn().Str("module", "chat").Str("conn", s.id).Str("type", in.Type).Msg("unknown event type")
	}
}

func (s *Session) handleRegister(raw string) {
	if s.state == stateClosed {
		return
	}
	// A second successful registration would orphan the first name's slot,
	// so a registered session may not claim again.
	if s.state == stateRegistered {
		s.send(errorEvent{TypeError, MsgAlreadyRegistered})
		return
	}

	name := strings.TrimSpace(raw)
	if name == "" {
		s.send(errorEvent{TypeError, MsgEmptyUsername})
		return
	}

	if err := s.registry.TryRegister(name, s.conn); err != nil {
		log.Info().Str("module", "chat").Str("conn", s.id).Str("user", name).Err(err).Msg("registration rejected")
		switch {
		case errors.Is(err, ErrNameTaken):
			s.send(errorEvent{TypeError, MsgUsernameTaken})
		case errors.Is(err, ErrChatFull):
			s.send(errorEvent{TypeError, MsgChatFull})
		}
		return
	}

	s.name = name
	s.state = stateRegistered
	s.persistPresence(name, true)
	log.Info().Str("module", "chat").Str("conn", s.id).Str("user", name).Msg("user registered")

	s.send(usernameEvent{TypeUsernameAccepted, name})
	s.replayHistory()

	s.registry.ForEachExcept(s.conn, func(_ string, peer Conn) {
		if err := peer.Send(usernameEvent{TypeUserJoined, name}); err != nil {
			log.Warn().Err(err).Str("module", "chat").Str("user", name).Msg("user_joined not delivered")
		}
	})

	if other, _, ok := s.registry.Other(name); ok {
		s.send(usernameEvent{TypeOtherUser, other})
	}
}

// replayHistory delivers the stored tail of the conversation to a freshly
// registered client. Best-effort: a store failure means no history, not a
// failed registration.
func (s *Session) replayHistory() {
	messages, err := s.store.RecentMessages(s.history)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Str("conn", s.id).Msg("could not load message history")
		return
	}
	for i := range messages {
		m := &messages[i]
		s.send(chatEvent{
			Type:      TypeChatMessage,
			From:      m.Sender,
			Message:   m.Body,
			Timestamp: m.Timestamp,
			IsHistory: true,
		})
	}
}

func (s *Session) handleChat(body string) {
	if s.state != stateRegistered {
		log.Debug().Str("module", "chat").Str("conn", s.id).Msg("chat before registration dropped")
		return
	}

	otherName, peer, ok := s.registry.Other(s.name)
	if !ok {
		s.send(errorEvent{TypeError, MsgNoOtherUser})
		return
	}

	msg := models.Message{
		Sender:    s.name,
		Recipient: otherName,
		Body:      body,
		Timestamp: time.Now(),
	}
	go func() {
		if err := s.store.AppendMessage(&msg); err != nil {
			log.Error().Err(err).Str("module", "chat").Str("user", msg.Sender).Msg("message not persisted")
		}
	}()

	if err := peer.Send(chatEvent{Type: TypeChatMessage, From: s.name, Message: body, Timestamp: msg.Timestamp}); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("user", otherName).Msg("chat message not delivered")
	}
	s.send(typeOnlyEvent{TypeMessageSent})
	s.send(chatEvent{Type: TypeChatMessage, From: s.name, Message: body, Timestamp: msg.Timestamp, IsMe: true})
}

// Close releases the participant's slot and notifies the remaining peer.
// Safe to call more than once.
func (s *Session) Close() {
	if s.state == stateClosed {
		return
	}
	wasRegistered := s.state == stateRegistered
	s.state = stateClosed
	if !wasRegistered {
		return
	}

	s.registry.Unregister(s.name)
	s.persistPresence(s.name, false)
	log.Info().Str("module", "chat").Str("conn", s.id).Str("user", s.name).Msg("user disconnected")

	s.registry.ForEachExcept(s.conn, func(_ string, peer Conn) {
		if err := peer.Send(usernameEvent{TypeUserLeft, s.name}); err != nil {
			log.Warn().Err(err).Str("module", "chat").Str("user", s.name).Msg("user_left not delivered")
		}
	})
}

// persistPresence is fire-and-forget: the store result is observed only by
// the logger and never gates the protocol.
func (s *Session) persistPresence(name string, online bool) {
	go func() {
		if err := s.store.UpsertPresence(name, online, time.Now()); err != nil {
			log.Error().Err(err).Str("module", "chat").Str("user", name).Msg("could not persist presence")
		}
	}()
}

func (s *Session) send(v any) {
	if err := s.conn.Send(v); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("conn", s.id).Msg("send failed")
	}
}
