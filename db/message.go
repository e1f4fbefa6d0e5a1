package db

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"deskchat/apperr"
	"deskchat/llm"
)

var messageColumns = []string{"id", "chat_id", "role", "content", "image_data", "image_mime", "created_at"}

// AddMessage appends a message to a chat and refreshes the chat's updated
// timestamp. The timestamp never moves backwards even if the clock does.
func (db *DB) AddMessage(ctx context.Context, chatID int64, role llm.Role, content string, image *Image) (*Message, error) {
	if !role.Valid() {
		return nil, apperr.Validation("invalid message role %q", role)
	}
	if image != nil && (image.Data == "" || image.MimeType == "") {
		return nil, apperr.Validation("image attachment is missing its data or MIME type")
	}
	if strings.TrimSpace(content) == "" && image == nil {
		return nil, apperr.Validation("message must have text or an image")
	}

	msg := &Message{ChatID: chatID, Role: role, Content: content, Image: image}
	err := db.withTx(ctx, "add message", func(tx *sqlx.Tx) error {
		chat, err := db.getChat(ctx, tx, chatID)
		if err != nil {
			return err
		}

		ts := now()
		if ts.Before(chat.UpdatedAt) {
			ts = chat.UpdatedAt
		}
		msg.CreatedAt = ts

		var contentVal, imageData, imageMime any
		if content != "" {
			contentVal = content
		}
		if image != nil {
			imageData, imageMime = image.Data, image.MimeType
		}

		id, err := insert(ctx, tx, db.sql.Insert("messages").
			Columns("chat_id", "role", "content", "image_data", "image_mime", "created_at").
			Values(chatID, string(role), contentVal, imageData, imageMime, ts))
		if err != nil {
			return err
		}
		msg.ID = id

		_, err = exec(ctx, tx, db.sql.Update("chats").Set("updated_at", ts).Where(sq.Eq{"id": chatID}))
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessages returns a chat's messages in the order they were appended
func (db *DB) GetMessages(ctx context.Context, chatID int64) ([]*Message, error) {
	var messages []*Message
	err := db.withTx(ctx, "get messages", func(tx *sqlx.Tx) error {
		if _, err := db.getChat(ctx, tx, chatID); err != nil {
			return err
		}

		var rows []messageRow
		if err := selectAll(ctx, tx, &rows, db.sql.Select(messageColumns...).
			From("messages").
			Where(sq.Eq{"chat_id": chatID}).
			OrderBy("id ASC")); err != nil {
			return err
		}

		messages = make([]*Message, 0, len(rows))
		for _, row := range rows {
			msg, err := row.toMessage()
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// CountMessages returns the number of messages with the given role in a chat
func (db *DB) CountMessages(ctx context.Context, chatID int64, role llm.Role) (int64, error) {
	var count int64
	err := get(ctx, db.conn, &count, db.sql.Select("COUNT(*)").
		From("messages").
		Where(sq.Eq{"chat_id": chatID, "role": string(role)}))
	if err != nil {
		return 0, apperr.Storage(err, "failed to count messages")
	}
	return count, nil
}
