package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	IsMember(ctx context.Context, chatID string, userID string) (bool, error)
	FindOrCreateDirect(ctx context.Context, userID string, otherID string) (models.Chat, bool, error)
	CreateGroup(ctx context.Context, name string, adminID string, memberIDs []string) (models.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	SetLatestMessage(ctx context.Context, chatID string, messageID string, at time.Time) error
	RefreshLatestMessage(ctx context.Context, chatID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `c.id, c.kind, c.name, c.admin_id, c.latest_message_id, c.created_at, c.updated_at`

// GetChat fetches a chat with its member ids and summaries.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}

	chats := []models.Chat{chat}
	if err := r.attachMembers(ctx, chats); err != nil {
		return models.Chat{}, err
	}
	return chats[0], nil
}

// IsMember checks whether a user belongs to the chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// FindOrCreateDirect returns the direct chat for the pair, creating it when
// absent. The unique direct_key makes concurrent creation converge on one row.
func (r *ChatRepo) FindOrCreateDirect(ctx context.Context, userID string, otherID string) (models.Chat, bool, error) {
	key := models.DirectKey(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var chatID string
	created := true
	err = tx.GetContext(ctx, &chatID, `INSERT INTO chats (id, kind, direct_key) VALUES ($1, 'direct', $2)
        ON CONFLICT (direct_key) DO NOTHING RETURNING id`, uuid.NewString(), key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
		if err := tx.GetContext(ctx, &chatID, `SELECT id FROM chats WHERE direct_key=$1`, key); err != nil {
			return models.Chat{}, false, fmt.Errorf("load direct chat: %w", err)
		}
	case err != nil:
		return models.Chat{}, false, err
	default:
		if err := insertMembers(ctx, tx, chatID, []string{userID, otherID}); err != nil {
			return models.Chat{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, false, err
	}

	chat, err := r.GetChat(ctx, chatID)
	return chat, created, err
}

// CreateGroup stores a group chat with the admin as a member.
func (r *ChatRepo) CreateGroup(ctx context.Context, name string, adminID string, memberIDs []string) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	chatID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, kind, name, admin_id) VALUES ($1, 'group', $2, $3)`, chatID, name, adminID); err != nil {
		return models.Chat{}, err
	}
	if err := insertMembers(ctx, tx, chatID, memberIDs); err != nil {
		return models.Chat{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, chatID string, userIDs []string) error {
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, chatID, userID); err != nil {
			return fmt.Errorf("add member %s: %w", userID, err)
		}
	}
	return nil
}

// ListForUser returns the user's chats, most recently active first.
func (r *ChatRepo) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	query := `SELECT ` + chatColumns + ` FROM chats c
        JOIN chat_members cm ON cm.chat_id = c.id
        WHERE cm.user_id = $1
        ORDER BY c.updated_at DESC, c.id`
	if err := r.db.SelectContext(ctx, &chats, query, userID); err != nil {
		return nil, err
	}
	if err := r.attachMembers(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// SetLatestMessage moves the denormalized latest-message pointer.
func (r *ChatRepo) SetLatestMessage(ctx context.Context, chatID string, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET latest_message_id=$2, updated_at=$3 WHERE id=$1`, chatID, messageID, at)
	return err
}

// RefreshLatestMessage recomputes the pointer from the remaining messages.
func (r *ChatRepo) RefreshLatestMessage(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET latest_message_id = (
            SELECT id FROM messages WHERE chat_id=$1 ORDER BY created_at DESC, seq DESC LIMIT 1
        ) WHERE id=$1`, chatID)
	return err
}

type memberRow struct {
	ChatID string `db:"chat_id"`
	models.UserSummary
}

func (r *ChatRepo) attachMembers(ctx context.Context, chats []models.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, len(chats))
	index := make(map[string]int, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
		index[c.ID] = i
	}

	query, args, err := sqlx.In(`SELECT cm.chat_id, u.id, u.name, u.avatar FROM chat_members cm
        JOIN users u ON u.id = cm.user_id
        WHERE cm.chat_id IN (?)
        ORDER BY cm.joined_at, u.id`, ids)
	if err != nil {
		return err
	}
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		c := &chats[index[row.ChatID]]
		c.MemberIDs = append(c.MemberIDs, row.ID)
		c.Members = append(c.Members, row.UserSummary)
	}
	return nil
}
