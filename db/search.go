package db

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// DefaultSearchLimit caps SearchChats when the caller passes no limit.
const DefaultSearchLimit = 50

// SearchChats returns chats whose title or any message text contains query,
// most recently updated first. An empty query lists all chats.
func (db *DB) SearchChats(ctx context.Context, query string, limit int) ([]*Chat, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return db.ListChats(ctx)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	pattern := "%" + escapeLike(query) + "%"
	matching := db.sql.Select("1").
		From("messages m").
		Where("m.chat_id = c.id").
		Where("m.content LIKE ? ESCAPE '\\'", pattern)
	sub, args, err := matching.ToSql()
	if err != nil {
		return nil, classify("search chats", err)
	}

	chats := []*Chat{}
	err = selectAll(ctx, db.conn, &chats, db.sql.
		Select("c.id AS id", "c.title AS title", "c.created_at AS created_at", "c.updated_at AS updated_at").
		From("chats c").
		Where(sq.Or{
			sq.Expr("c.title LIKE ? ESCAPE '\\'", pattern),
			sq.Expr("EXISTS ("+sub+")", args...),
		}).
		OrderBy("c.updated_at DESC", "c.id DESC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, classify("search chats", err)
	}
	return chats, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
