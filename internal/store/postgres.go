package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
create table if not exists users (
	id         bigserial primary key,
	email      text not null,
	created_at timestamptz not null default now()
);

create table if not exists sessions (
	token      text primary key,
	user_id    bigint not null references users(id) on delete cascade,
	expires_at timestamptz not null
);

create table if not exists chats (
	id         bigserial primary key,
	user_id    bigint not null references users(id) on delete cascade,
	head_msg   bigint,
	name       text,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists msgs (
	id         bigserial primary key,
	chat_id    bigint not null references chats(id) on delete cascade,
	body       text not null,
	sender     text not null,
	user_id    bigint not null references users(id) on delete cascade,
	parent_id  bigint references msgs(id) on delete cascade,
	created_at timestamptz not null default now()
);

create index if not exists chats_user_idx on chats (user_id, updated_at desc);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

func (p *Postgres) CreateUser(ctx context.Context, email string) (User, error) {
	u := User{Email: email}
	err := p.db.QueryRow(ctx, `
		insert into users (email) values ($1)
		returning id, created_at
	`, email).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (p *Postgres) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (Session, error) {
	s := Session{Token: uuid.NewString(), UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	_, err := p.db.Exec(ctx, `
		insert into sessions (token, user_id, expires_at)
		select $1, id, $3 from users where id = $2
	`, s.Token, userID, s.ExpiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return p.ValidateSession(ctx, s.Token)
}

func (p *Postgres) ValidateSession(ctx context.Context, token string) (Session, error) {
	s := Session{Token: token}
	var expired bool
	err := p.db.QueryRow(ctx, `
		select user_id, expires_at, expires_at <= now()
		from sessions
		where token = $1
	`, token).Scan(&s.UserID, &s.ExpiresAt, &expired)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("validate session: %w", err)
	}
	if expired {
		if _, err := p.db.Exec(ctx, `delete from sessions where token = $1`, token); err != nil {
			return Session{}, fmt.Errorf("drop expired session: %w", err)
		}
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

const chatColumns = `id, user_id, coalesce(head_msg, 0), coalesce(name, ''), created_at, updated_at`

func scanChat(row pgx.Row) (Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.UserID, &c.HeadMsg, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) CreateChat(ctx context.Context, userID int64) (Chat, error) {
	c, err := scanChat(p.db.QueryRow(ctx, `
		insert into chats (user_id) values ($1)
		returning `+chatColumns, userID))
	if err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	c, err := scanChat(p.db.QueryRow(ctx, `select `+chatColumns+` from chats where id = $1`, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (p *Postgres) UserChats(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := p.db.Query(ctx, `
		select `+chatColumns+`
		from chats
		where user_id = $1
		order by updated_at desc, id desc
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) RenameChat(ctx context.Context, chatID int64, name string) error {
	tag, err := p.db.Exec(ctx, `update chats set name = $2 where id = $1`, chatID, name)
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteChat(ctx context.Context, chatID int64) error {
	tag, err := p.db.Exec(ctx, `delete from chats where id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, chatID int64, sender, body string) (Msg, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return Msg{}, fmt.Errorf("append message: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	msg := Msg{ChatID: chatID, Body: body, Sender: sender}
	err = tx.QueryRow(ctx, `
		select user_id, coalesce(head_msg, 0) from chats where id = $1 for update
	`, chatID).Scan(&msg.UserID, &msg.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Msg{}, ErrNotFound
	}
	if err != nil {
		return Msg{}, fmt.Errorf("append message: lock chat: %w", err)
	}

	if err := tx.QueryRow(ctx, `
		insert into msgs (chat_id, body, sender, user_id, parent_id)
		values ($1, $2, $3, $4, nullif($5::bigint, 0))
		returning id, created_at
	`, chatID, body, sender, msg.UserID, msg.ParentID).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return Msg{}, fmt.Errorf("append message: insert: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		update chats set head_msg = $2, updated_at = $3 where id = $1
	`, chatID, msg.ID, msg.CreatedAt); err != nil {
		return Msg{}, fmt.Errorf("append message: advance head: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Msg{}, fmt.Errorf("append message: commit: %w", err)
	}
	return msg, nil
}

func (p *Postgres) MessageChain(ctx context.Context, chatID int64) ([]Msg, error) {
	if _, err := p.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		with recursive chain as (
			select m.* from msgs m join chats c on c.head_msg = m.id where c.id = $1
			union all
			select p.* from msgs p join chain ch on p.id = ch.parent_id
		)
		select id, chat_id, body, sender, user_id, coalesce(parent_id, 0), created_at
		from chain
		order by id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("message chain: %w", err)
	}
	defer rows.Close()

	var chain []Msg
	for rows.Next() {
		var m Msg
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Body, &m.Sender, &m.UserID, &m.ParentID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		chain = append(chain, m)
	}
	return chain, rows.Err()
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
