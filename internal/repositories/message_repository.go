package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrDuplicateClientID = errors.New("message with this client id already exists")
)

// NewMessage is the write model for Create.
type NewMessage struct {
	ID         string
	ChatID     string
	SenderID   string
	Kind       models.MessageKind
	Content    string
	Attachment *models.Attachment
	ReplyToID  *string
	ClientID   string
	CreatedAt  time.Time
}

// MessageRepository defines interactions for chat messages. Reads return
// populated records: sender, reply preview, likes and receipts resolved.
type MessageRepository interface {
	Create(ctx context.Context, msg NewMessage) error
	AddDeliveries(ctx context.Context, messageID string, userIDs []string, at time.Time) error
	Get(ctx context.Context, messageID string) (models.Message, error)
	GetMany(ctx context.Context, messageIDs []string) ([]models.Message, error)
	FindByClientID(ctx context.Context, senderID string, clientID string) (models.Message, error)
	ListPage(ctx context.Context, chatID string, offset int, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID string, content string) error
	Delete(ctx context.Context, messageID string) error
	ToggleLike(ctx context.Context, messageID string, userID string) ([]string, error)
	SetLike(ctx context.Context, messageID string, userID string, liked bool) ([]string, error)
	AddRead(ctx context.Context, messageID string, userID string, at time.Time) (bool, []models.Receipt, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const selectMessages = `SELECT m.id, m.chat_id, m.sender_id, m.kind, m.content, m.file_url, m.file_name,
        m.reply_to_id, m.client_id, m.edited, m.created_at,
        s.name AS sender_name, s.avatar AS sender_avatar,
        r.sender_id AS reply_sender_id, rs.name AS reply_sender_name, r.kind AS reply_kind, r.content AS reply_content
    FROM messages m
    LEFT JOIN users s ON s.id = m.sender_id
    LEFT JOIN messages r ON r.id = m.reply_to_id
    LEFT JOIN users rs ON rs.id = r.sender_id`

type messageRow struct {
	ID              string         `db:"id"`
	ChatID          string         `db:"chat_id"`
	SenderID        string         `db:"sender_id"`
	Kind            string         `db:"kind"`
	Content         string         `db:"content"`
	FileURL         sql.NullString `db:"file_url"`
	FileName        sql.NullString `db:"file_name"`
	ReplyToID       sql.NullString `db:"reply_to_id"`
	ClientID        string         `db:"client_id"`
	Edited          bool           `db:"edited"`
	CreatedAt       time.Time      `db:"created_at"`
	SenderName      sql.NullString `db:"sender_name"`
	SenderAvatar    sql.NullString `db:"sender_avatar"`
	ReplySenderID   sql.NullString `db:"reply_sender_id"`
	ReplySenderName sql.NullString `db:"reply_sender_name"`
	ReplyKind       sql.NullString `db:"reply_kind"`
	ReplyContent    sql.NullString `db:"reply_content"`
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:          row.ID,
		ChatID:      row.ChatID,
		SenderID:    row.SenderID,
		Kind:        models.MessageKind(row.Kind),
		Content:     row.Content,
		ClientID:    row.ClientID,
		Edited:      row.Edited,
		CreatedAt:   row.CreatedAt,
		Likes:       []string{},
		ReadBy:      []models.Receipt{},
		DeliveredTo: []models.Receipt{},
		Sender: &models.UserSummary{
			ID:     row.SenderID,
			Name:   row.SenderName.String,
			Avatar: row.SenderAvatar.String,
		},
	}
	if row.FileURL.Valid && row.FileURL.String != "" {
		msg.Attachment = &models.Attachment{URL: row.FileURL.String, FileName: row.FileName.String}
	}
	if row.ReplyToID.Valid {
		replyID := row.ReplyToID.String
		msg.ReplyToID = &replyID
		if row.ReplySenderID.Valid {
			msg.ReplyTo = &models.ReplyPreview{
				ID:         replyID,
				SenderID:   row.ReplySenderID.String,
				SenderName: row.ReplySenderName.String,
				Kind:       models.MessageKind(row.ReplyKind.String),
				Content:    row.ReplyContent.String,
			}
		}
	}
	return msg
}

// Create inserts a message. A repeated (sender, client id) pair yields ErrDuplicateClientID.
func (r *MessageRepo) Create(ctx context.Context, msg NewMessage) error {
	var fileURL, fileName sql.NullString
	if msg.Attachment != nil {
		fileURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
		fileName = sql.NullString{String: msg.Attachment.FileName, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO messages
        (id, chat_id, sender_id, kind, content, file_url, file_name, reply_to_id, client_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
        ON CONFLICT (sender_id, client_id) WHERE client_id <> '' DO NOTHING`,
		msg.ID, msg.ChatID, msg.SenderID, string(msg.Kind), msg.Content, fileURL, fileName, msg.ReplyToID, msg.ClientID, msg.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateClientID
	}
	return nil
}

// AddDeliveries records one delivery receipt per user; existing entries are kept.
func (r *MessageRepo) AddDeliveries(ctx context.Context, messageID string, userIDs []string, at time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_deliveries (message_id, user_id, at) VALUES ($1, $2, $3)
            ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at); err != nil {
			return fmt.Errorf("delivery for %s: %w", userID, err)
		}
	}
	return tx.Commit()
}

// Get retrieves a single populated message.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, selectMessages+` WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{row.toModel()}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// GetMany retrieves populated messages; missing ids are skipped.
func (r *MessageRepo) GetMany(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(selectMessages+` WHERE m.id IN (?)`, messageIDs)
	if err != nil {
		return nil, err
	}
	return r.selectPopulated(ctx, r.db.Rebind(query), args...)
}

// FindByClientID looks up a message by the sender's client-generated id.
func (r *MessageRepo) FindByClientID(ctx context.Context, senderID string, clientID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, selectMessages+` WHERE m.sender_id=$1 AND m.client_id=$2`, senderID, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{row.toModel()}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListPage returns messages newest first; seq breaks created_at ties in insertion order.
func (r *MessageRepo) ListPage(ctx context.Context, chatID string, offset int, limit int) ([]models.Message, error) {
	return r.selectPopulated(ctx, selectMessages+` WHERE m.chat_id=$1
        ORDER BY m.created_at DESC, m.seq DESC
        OFFSET $2 LIMIT $3`, chatID, offset, limit)
}

func (r *MessageRepo) selectPopulated(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, len(rows))
	for i, row := range rows {
		msgs[i] = row.toModel()
	}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateContent replaces the text and marks the message edited.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID string, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, edited=TRUE, updated_at=NOW() WHERE id=$1`, messageID, content)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

// Delete hard-deletes a message; likes and receipts cascade.
func (r *MessageRepo) Delete(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

// ToggleLike removes the user's like if present, otherwise adds it.
func (r *MessageRepo) ToggleLike(ctx context.Context, messageID string, userID string) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM message_likes WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	if err != nil {
		return nil, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_likes (message_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, messageID, userID); err != nil {
			return nil, err
		}
	}

	likes, err := selectLikes(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	return likes, tx.Commit()
}

// SetLike makes the user's like state match liked.
func (r *MessageRepo) SetLike(ctx context.Context, messageID string, userID string, liked bool) ([]string, error) {
	var err error
	if liked {
		_, err = r.db.ExecContext(ctx, `INSERT INTO message_likes (message_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, messageID, userID)
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM message_likes WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	}
	if err != nil {
		return nil, err
	}
	return selectLikes(ctx, r.db, messageID)
}

// AddRead records a read receipt once per user and reports whether it was new.
func (r *MessageRepo) AddRead(ctx context.Context, messageID string, userID string, at time.Time) (bool, []models.Receipt, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, at) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return false, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}

	var readBy []models.Receipt
	if err := r.db.SelectContext(ctx, &readBy, `SELECT user_id, at FROM message_reads WHERE message_id=$1 ORDER BY at, user_id`, messageID); err != nil {
		return false, nil, err
	}
	return n > 0, readBy, nil
}

func selectLikes(ctx context.Context, q sqlx.QueryerContext, messageID string) ([]string, error) {
	likes := []string{}
	if err := sqlx.SelectContext(ctx, q, &likes, `SELECT user_id FROM message_likes WHERE message_id=$1 ORDER BY at, user_id`, messageID); err != nil {
		return nil, err
	}
	return likes, nil
}

type reactionRow struct {
	MessageID string    `db:"message_id"`
	UserID    string    `db:"user_id"`
	At        time.Time `db:"at"`
}

// attachReactions fills likes, read and delivery receipts for msgs in three queries.
func (r *MessageRepo) attachReactions(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = i
	}

	for _, table := range []string{"message_likes", "message_reads", "message_deliveries"} {
		query, args, err := sqlx.In(`SELECT message_id, user_id, at FROM `+table+` WHERE message_id IN (?) ORDER BY at, user_id`, ids)
		if err != nil {
			return err
		}
		var rows []reactionRow
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		for _, row := range rows {
			m := &msgs[index[row.MessageID]]
			receipt := models.Receipt{UserID: row.UserID, At: row.At}
			switch table {
			case "message_likes":
				m.Likes = append(m.Likes, row.UserID)
			case "message_reads":
				m.ReadBy = append(m.ReadBy, receipt)
			default:
				m.DeliveredTo = append(m.DeliveredTo, receipt)
			}
		}
	}
	return nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
