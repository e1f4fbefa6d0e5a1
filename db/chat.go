package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"deskchat/apperr"
	"deskchat/llm"
)

var chatColumns = []string{"id", "title", "created_at", "updated_at"}

// CreateChat creates a new chat. The title is stored as given; a blank title
// becomes the default title.
func (db *DB) CreateChat(ctx context.Context, title string) (*Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = llm.DefaultChatTitle
	}

	ts := now()
	chat := &Chat{Title: title, CreatedAt: ts, UpdatedAt: ts}
	err := db.withTx(ctx, "create chat", func(tx *sqlx.Tx) error {
		id, err := insert(ctx, tx, db.sql.Insert("chats").
			Columns("title", "created_at", "updated_at").
			Values(chat.Title, chat.CreatedAt, chat.UpdatedAt))
		if err != nil {
			return err
		}
		chat.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.logger.Debug().Int64("chat_id", chat.ID).Msg("chat created")
	return chat, nil
}

// GetChat retrieves a chat by ID
func (db *DB) GetChat(ctx context.Context, id int64) (*Chat, error) {
	chat, err := db.getChat(ctx, db.conn, id)
	if err != nil {
		return nil, classify("get chat", err)
	}
	return chat, nil
}

func (db *DB) getChat(ctx context.Context, q sqlx.QueryerContext, id int64) (*Chat, error) {
	var chat Chat
	err := get(ctx, q, &chat, db.sql.Select(chatColumns...).From("chats").Where(sq.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("chat %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats returns every chat, most recently updated first
func (db *DB) ListChats(ctx context.Context) ([]*Chat, error) {
	chats := []*Chat{}
	err := selectAll(ctx, db.conn, &chats, db.sql.Select(chatColumns...).
		From("chats").
		OrderBy("updated_at DESC", "id DESC"))
	if err != nil {
		return nil, apperr.Storage(err, "failed to list chats")
	}
	return chats, nil
}

// RenameChat changes a chat's title. The title is stored as given and the
// updated timestamp is left alone.
func (db *DB) RenameChat(ctx context.Context, id int64, title string) error {
	if strings.TrimSpace(title) == "" {
		return apperr.Validation("chat title must not be empty")
	}

	return db.withTx(ctx, "rename chat", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Update("chats").Set("title", title).Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("chat %d not found", id)
		}
		return nil
	})
}

// DeleteChat deletes a chat and all its messages
func (db *DB) DeleteChat(ctx context.Context, id int64) error {
	err := db.withTx(ctx, "delete chat", func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, db.sql.Delete("chats").Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("chat %d not found", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Debug().Int64("chat_id", id).Msg("chat deleted")
	return nil
}
