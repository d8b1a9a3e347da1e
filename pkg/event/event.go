// Package event defines the closed set of session event kinds, the Event
// envelope published to consumers, and the Source producer type that engines
// expose for each kind.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a session event.
type Kind string

const (
	SessionStatus   Kind = "session.status"
	Message         Kind = "message"
	MessageAny      Kind = "message.any"
	MessageReaction Kind = "message.reaction"
	MessageAck      Kind = "message.ack"
	MessageRevoked  Kind = "message.revoked"
	MessageEdited   Kind = "message.edited"
	StateChange     Kind = "state.change"
	GroupJoin       Kind = "group.join"
	GroupLeave      Kind = "group.leave"
	PresenceUpdate  Kind = "presence.update"
	PollVote        Kind = "poll.vote"
	PollVoteFailed  Kind = "poll.vote.failed"
	ChatArchive     Kind = "chat.archive"
	CallReceived    Kind = "call.received"
	CallAccepted    Kind = "call.accepted"
	CallRejected    Kind = "call.rejected"
	LabelUpsert     Kind = "label.upsert"
	LabelDeleted    Kind = "label.deleted"
	LabelChatAdded  Kind = "label.chat.added"
	LabelChatDelete Kind = "label.chat.deleted"
	EngineEvent     Kind = "engine.event"
)

// Kinds is the fixed set of event kinds, in declaration order.
var Kinds = []Kind{
	SessionStatus,
	Message,
	MessageAny,
	MessageReaction,
	MessageAck,
	MessageRevoked,
	MessageEdited,
	StateChange,
	GroupJoin,
	GroupLeave,
	PresenceUpdate,
	PollVote,
	PollVoteFailed,
	ChatArchive,
	CallReceived,
	CallAccepted,
	CallRejected,
	LabelUpsert,
	LabelDeleted,
	LabelChatAdded,
	LabelChatDelete,
	EngineEvent,
}

var known = func() map[Kind]struct{} {
	m := make(map[Kind]struct{}, len(Kinds))
	for _, k := range Kinds {
		m[k] = struct{}{}
	}
	return m
}()

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	_, ok := known[k]
	return ok
}

// ParseKind converts s to a Kind, failing for kinds outside the fixed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("event: unknown kind %q", s)
	}
	return k, nil
}

// Me is the account identity a session is logged in as.
type Me struct {
	ID       string `json:"id" yaml:"id"`
	PushName string `json:"pushName,omitempty" yaml:"push_name,omitempty"`
}

// Event is an immutable notification produced by a session.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"event"`
	Session   string    `json:"session"`
	Engine    string    `json:"engine,omitempty"`
	Me        *Me       `json:"me,omitempty"`
	Payload   any       `json:"payload"`
}

// New creates an Event of the given kind with a fresh ID and the current time.
func New(kind Kind, payload any) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
	}
}
