package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gliderlab/mcpgate/storage"
)

// The bridge owns messages.db; this side only reads it.

type Chat struct {
	JID             string    `json:"jid"`
	Name            string    `json:"name"`
	IsGroup         bool      `json:"is_group"`
	LastMessageTime time.Time `json:"last_message_time"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastSender      string    `json:"last_sender,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chat_jid"`
	ChatName  string    `json:"chat_name,omitempty"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
	MediaType string    `json:"media_type,omitempty"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
	JID         string `json:"jid"`
}

type store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// conn opens the database on first use so that the plugin can be registered
// before the bridge has created it.
func (s *store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := storage.OpenReadOnly(s.path)
	if err != nil {
		return nil, fmt.Errorf("whatsapp bridge store unavailable: %w", err)
	}
	s.db = db
	return db, nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (s *store) searchContacts(ctx context.Context, query string, limit int) ([]Contact, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	p := likePattern(query)
	rows, err := db.QueryContext(ctx, `
		SELECT jid, COALESCE(name, '')
		FROM chats
		WHERE jid NOT LIKE '%@g.us'
		  AND (lower(name) LIKE ? ESCAPE '\' OR lower(jid) LIKE ? ESCAPE '\')
		ORDER BY name, jid
		LIMIT ?
	`, p, p, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.JID, &c.Name); err != nil {
			return nil, err
		}
		c.PhoneNumber = strings.SplitN(c.JID, "@", 2)[0]
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

const chatSelect = `
	SELECT c.jid, COALESCE(c.name, ''), c.last_message_time,
	       COALESCE(m.content, ''), COALESCE(m.sender, '')
	FROM chats c
	LEFT JOIN messages m ON m.chat_jid = c.jid AND m.timestamp = c.last_message_time
`

func scanChats(rows *sql.Rows) ([]Chat, error) {
	defer rows.Close()
	chats := []Chat{}
	for rows.Next() {
		var (
			c    Chat
			last sql.NullTime
		)
		if err := rows.Scan(&c.JID, &c.Name, &last, &c.LastMessage, &c.LastSender); err != nil {
			return nil, err
		}
		c.LastMessageTime = last.Time
		c.IsGroup = strings.HasSuffix(c.JID, "@g.us")
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *store) listChats(ctx context.Context, query string, limit int) ([]Chat, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	where, args := "", []interface{}{}
	if query != "" {
		p := likePattern(query)
		where = `WHERE lower(c.name) LIKE ? ESCAPE '\' OR lower(c.jid) LIKE ? ESCAPE '\'`
		args = append(args, p, p)
	}
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, chatSelect+where+` ORDER BY c.last_message_time DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

func (s *store) getChat(ctx context.Context, jid string) (*Chat, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, chatSelect+` WHERE c.jid = ? LIMIT 1`, jid)
	if err != nil {
		return nil, err
	}
	chats, err := scanChats(rows)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("chat %s not found", jid)
	}
	return &chats[0], nil
}

type messageFilter struct {
	ChatJID  string
	Sender   string
	Query    string
	BeforeID string
	Limit    int
}

func (s *store) listMessages(ctx context.Context, f messageFilter) ([]Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var (
		conds []string
		args  []interface{}
	)
	if f.ChatJID != "" {
		conds = append(conds, "m.chat_jid = ?")
		args = append(args, f.ChatJID)
	}
	if f.Sender != "" {
		conds = append(conds, "lower(m.sender) LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Sender))
	}
	if f.Query != "" {
		conds = append(conds, "lower(m.content) LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Query))
	}
	if f.BeforeID != "" {
		conds = append(conds, "m.timestamp < (SELECT timestamp FROM messages WHERE id = ? LIMIT 1)")
		args = append(args, f.BeforeID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.chat_jid, COALESCE(c.name, ''), COALESCE(m.sender, ''), COALESCE(m.content, ''),
		       m.timestamp, m.is_from_me, COALESCE(m.media_type, '')
		FROM messages m
		LEFT JOIN chats c ON c.jid = m.chat_jid
		`+where+`
		ORDER BY m.timestamp DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.ChatName, &m.Sender, &m.Content, &m.Timestamp, &m.IsFromMe, &m.MediaType); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
