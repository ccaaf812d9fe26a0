package models

import "time"

// User is the profile owned by the auth service; the chat service only updates LastSeen.
type User struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	Avatar    string     `db:"avatar" json:"avatar,omitempty"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// UserSummary is the display projection embedded in chats and messages.
type UserSummary struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Avatar string `db:"avatar" json:"avatar,omitempty"`
}
