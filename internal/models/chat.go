package models

import (
	"sort"
	"time"
)

type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// MinGroupInvitees is the number of distinct users a creator must invite.
const MinGroupInvitees = 2

// Chat is a direct conversation between two users or a named group.
type Chat struct {
	ID              string    `db:"id" json:"id"`
	Kind            ChatKind  `db:"kind" json:"kind"`
	Name            string    `db:"name" json:"name,omitempty"`
	AdminID         *string   `db:"admin_id" json:"admin_id,omitempty"`
	LatestMessageID *string   `db:"latest_message_id" json:"latest_message_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	MemberIDs     []string      `db:"-" json:"member_ids"`
	Members       []UserSummary `db:"-" json:"members,omitempty"`
	LatestMessage *Message      `db:"-" json:"latest_message,omitempty"`
}

// HasMember reports whether userID belongs to the chat.
func (c Chat) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherMembers returns every member except userID.
func (c Chat) OtherMembers(userID string) []string {
	out := make([]string, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// DirectKey is the order-independent identity of a direct chat between a and b.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}
