// Package conversation rebuilds per-user conversation views from raw
// message rows.
//
// A Conversation is every message between two users that the requesting
// user can still see, oldest first. Conversations lists all of a user's
// conversations, most recently active first. A conversation whose messages
// the user has all deleted does not appear at all.
package conversation

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// Conversation is the direct messages between UserID and ParticipantID.
type Conversation struct {
	UserID        uuid.UUID           `json:"userId"`
	ParticipantID uuid.UUID           `json:"participantId"`
	Messages      []model.MessageView `json:"messages"`
}

// Conversations is a user's conversations, most recent first.
type Conversations []Conversation

// LastSentAt returns the send time of the most recent message.
func (c Conversation) LastSentAt() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].SentAt
}

// Aggregate groups rows into the conversations of user. Rows user does
// not take part in are ignored.
func Aggregate(user uuid.UUID, rows []model.Row) Conversations {
	groups := make(map[uuid.UUID][]model.MessageView)
	for _, r := range rows {
		if !r.VisibleTo(user) {
			continue
		}
		other := r.OtherParticipant(user)
		groups[other] = append(groups[other], r.ViewFor(user))
	}

	out := make(Conversations, 0, len(groups))
	for participant, msgs := range groups {
		sortMessages(msgs)
		out = append(out, Conversation{
			UserID:        user,
			ParticipantID: participant,
			Messages:      msgs,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastSentAt(), out[j].LastSentAt()
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return out[i].ParticipantID.String() < out[j].ParticipantID.String()
	})
	return out
}

// Between returns the conversation of user with other. Messages is empty,
// not nil, when nothing is visible.
func Between(user, other uuid.UUID, rows []model.Row) Conversation {
	msgs := make([]model.MessageView, 0, len(rows))
	for _, r := range rows {
		if !r.VisibleTo(user) || r.OtherParticipant(user) != other {
			continue
		}
		msgs = append(msgs, r.ViewFor(user))
	}
	sortMessages(msgs)
	return Conversation{UserID: user, ParticipantID: other, Messages: msgs}
}

// sortMessages orders oldest first; ids are time ordered and break ties.
func sortMessages(msgs []model.MessageView) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID.String() < msgs[j].ID.String()
	})
}
