package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
)

// Querier is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores clients and messages relationally. Messages live
// in their own table keyed by (client_id, id), so concurrent writers union
// naturally through ON CONFLICT DO NOTHING.
type PostgresRepository struct {
	db Querier
}

func NewPostgresRepository(db Querier) *PostgresRepository {
	if db == nil {
		panic("clients: querier required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context) ([]Client, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, phone, name, context, created_at, last_message_at
		FROM clients
		ORDER BY last_message_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("clients: list failed: %w", err)
	}
	defer rows.Close()

	var out []Client
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clients: list scan failed: %w", err)
	}

	msgRows, err := r.db.Query(ctx, `
		SELECT client_id, id, role, text, thought, timestamp, type, attachment
		FROM client_messages
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("clients: list messages failed: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var clientID string
		msg, err := scanMessage(msgRows, &clientID)
		if err != nil {
			return nil, err
		}
		if i, ok := index[clientID]; ok {
			out[i].Messages = append(out[i].Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("clients: message scan failed: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Client, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, phone, name, context, created_at, last_message_at
		FROM clients
		WHERE id = $1
	`, id)
	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT client_id, id, role, text, thought, timestamp, type, attachment
		FROM client_messages
		WHERE client_id = $1
		ORDER BY timestamp ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("clients: get messages failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var clientID string
		msg, err := scanMessage(rows, &clientID)
		if err != nil {
			return nil, err
		}
		c.Messages = append(c.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clients: message scan failed: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*Client, bool, error) {
	// Synced clients are keyed by their number, so match the id too.
	row := r.db.QueryRow(ctx, `
		SELECT id, phone, name, context, created_at, last_message_at
		FROM clients
		WHERE phone = $1 OR id = $1
	`, phone)
	existing, err := scanClient(row)
	if err == nil {
		return &existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	id := uuid.New().String()
	contextJSON, err := json.Marshal(conversation.NewContext())
	if err != nil {
		return nil, false, fmt.Errorf("clients: marshal context failed: %w", err)
	}

	var created Client
	err = r.db.QueryRow(ctx, `
		INSERT INTO clients (id, phone, name, context)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) WHERE phone <> '' DO NOTHING
		RETURNING id, created_at, last_message_at
	`, id, phone, DefaultName(phone), contextJSON).Scan(&created.ID, &created.CreatedAt, &created.LastMessageAt)
	if err == nil {
		created.Phone = phone
		created.Name = DefaultName(phone)
		created.Context = conversation.NewContext()
		return &created, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("clients: insert failed: %w", err)
	}

	// Lost a race: a concurrent writer landed the phone first.
	row = r.db.QueryRow(ctx, `
		SELECT id, phone, name, context, created_at, last_message_at
		FROM clients
		WHERE phone = $1
	`, phone)
	existing, err = scanClient(row)
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, clientID string, msg Message) (bool, error) {
	var attachment []byte
	if msg.Attachment != nil {
		var err error
		attachment, err = json.Marshal(msg.Attachment)
		if err != nil {
			return false, fmt.Errorf("clients: marshal attachment failed: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO client_messages (client_id, id, role, text, thought, timestamp, type, attachment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (client_id, id) DO NOTHING
	`, clientID, msg.ID, msg.Role, msg.Text, msg.Thought, msg.Timestamp, msg.Type, attachment)
	if err != nil {
		return false, fmt.Errorf("clients: insert message failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := r.db.Exec(ctx, `
		UPDATE clients
		SET last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1
	`, clientID, msg.Timestamp); err != nil {
		return false, fmt.Errorf("clients: bump last_message_at failed: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) UpdateContext(ctx context.Context, clientID string, cc conversation.Context) error {
	contextJSON, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("clients: marshal context failed: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE clients SET context = $2 WHERE id = $1`, clientID, contextJSON)
	if err != nil {
		return fmt.Errorf("clients: update context failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (r *PostgresRepository) SaveBatch(ctx context.Context, batch []Client) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("clients: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range batch {
		c := batch[i]
		normalizeIdentity(&c)
		contextJSON, err := json.Marshal(c.Context)
		if err != nil {
			return fmt.Errorf("clients: marshal context failed: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO clients (id, phone, name, context, created_at, last_message_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				context = EXCLUDED.context,
				phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE clients.phone END,
				last_message_at = GREATEST(clients.last_message_at, EXCLUDED.last_message_at)
		`, c.ID, c.Phone, c.Name, contextJSON, c.CreatedAt, c.LastMessageAt); err != nil {
			return fmt.Errorf("clients: upsert client %s failed: %w", c.ID, err)
		}

		for _, msg := range c.Messages {
			var attachment []byte
			if msg.Attachment != nil {
				attachment, err = json.Marshal(msg.Attachment)
				if err != nil {
					return fmt.Errorf("clients: marshal attachment failed: %w", err)
				}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO client_messages (client_id, id, role, text, thought, timestamp, type, attachment)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (client_id, id) DO NOTHING
			`, c.ID, msg.ID, msg.Role, msg.Text, msg.Thought, msg.Timestamp, msg.Type, attachment); err != nil {
				return fmt.Errorf("clients: insert message %s failed: %w", msg.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("clients: commit failed: %w", err)
	}
	return nil
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	var contextJSON []byte
	if err := row.Scan(&c.ID, &c.Phone, &c.Name, &contextJSON, &c.CreatedAt, &c.LastMessageAt); err != nil {
		if err == pgx.ErrNoRows {
			return Client{}, err
		}
		return Client{}, fmt.Errorf("clients: scan client failed: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return Client{}, fmt.Errorf("clients: decode context failed: %w", err)
		}
	}
	if c.Context.Stage == "" {
		c.Context = conversation.NewContext()
	}
	return c, nil
}

func scanMessage(row pgx.Row, clientID *string) (Message, error) {
	var msg Message
	var thought *string
	var attachment []byte
	var ts time.Time
	if err := row.Scan(clientID, &msg.ID, &msg.Role, &msg.Text, &thought, &ts, &msg.Type, &attachment); err != nil {
		return Message{}, fmt.Errorf("clients: scan message failed: %w", err)
	}
	if thought != nil {
		msg.Thought = *thought
	}
	msg.Timestamp = ts
	if len(attachment) > 0 {
		var a Attachment
		if err := json.Unmarshal(attachment, &a); err != nil {
			return Message{}, fmt.Errorf("clients: decode attachment failed: %w", err)
		}
		msg.Attachment = &a
	}
	return msg, nil
}
