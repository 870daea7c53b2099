package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence/sqlbase"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(255) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				channel VARCHAR(64) NOT NULL DEFAULT '',
				status VARCHAR(64) NOT NULL DEFAULT '',
				contact JSONB,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner);

			CREATE TABLE IF NOT EXISTS conversation_tags (
				conversation_id VARCHAR(255) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				tag VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (conversation_id, tag)
			);

			CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(255) PRIMARY KEY,
				conversation_id VARCHAR(255) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender VARCHAR(64) NOT NULL,
				content TEXT NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
		`,
	}
}

// PostgresStore reads and writes the chat store tables.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to conversations database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping conversations database: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, db, "conversations", migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run conversation migrations: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var (
		conversation models.Conversation
		contactJSON  []byte
		tags         []string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.owner, c.channel, c.status, c.contact,
			COALESCE(ARRAY(SELECT t.tag FROM conversation_tags t WHERE t.conversation_id = c.id ORDER BY t.created_at), '{}')
		FROM conversations c
		WHERE c.id = $1
	`, id).Scan(
		&conversation.ID,
		&conversation.Owner,
		&conversation.Channel,
		&conversation.Status,
		&contactJSON,
		pq.Array(&tags),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
		}

		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	conversation.Tags = tags

	if contactJSON != nil {
		err := json.Unmarshal(contactJSON, &conversation.Contact)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact: %w", err)
		}
	}

	return &conversation, nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conversation *models.Conversation) error {
	contactJSON, err := json.Marshal(conversation.Contact)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, owner, channel, status, contact, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			channel = EXCLUDED.channel,
			status = EXCLUDED.status,
			contact = EXCLUDED.contact,
			updated_at = NOW()
	`, conversation.ID, conversation.Owner, conversation.Channel, conversation.Status, contactJSON)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conversation.ID, err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM conversation_tags WHERE conversation_id = $1`, conversation.ID)
	if err != nil {
		return fmt.Errorf("failed to reset tags: %w", err)
	}

	for _, tag := range conversation.Tags {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_tags (conversation_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, conversation.ID, normalizeTag(tag))
		if err != nil {
			return fmt.Errorf("failed to save tag: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(message.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, message.ID, message.ConversationID, message.Sender, message.Content, metadataJSON, message.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("conversation %s: %w", message.ConversationID, ErrConversationNotFound)
		}

		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		var (
			message      models.Message
			metadataJSON []byte
		)

		err := rows.Scan(&message.ID, &message.ConversationID, &message.Sender, &message.Content, &metadataJSON, &message.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if metadataJSON != nil {
			err := json.Unmarshal(metadataJSON, &message.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}

		messages = append(messages, &message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, conversationID, status string) error {
	return s.exec(ctx, conversationID,
		`UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1`,
		conversationID, status,
	)
}

func (s *PostgresStore) AddTag(ctx context.Context, conversationID, tag string) error {
	return s.exec(ctx, conversationID, `
		INSERT INTO conversation_tags (conversation_id, tag)
		SELECT id, $2 FROM conversations WHERE id = $1
		ON CONFLICT (conversation_id, tag) DO UPDATE SET tag = EXCLUDED.tag
	`, conversationID, normalizeTag(tag))
}

func (s *PostgresStore) RemoveTag(ctx context.Context, conversationID, tag string) error {
	_, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM conversation_tags WHERE conversation_id = $1 AND tag = $2`,
		conversationID, normalizeTag(tag),
	)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}

	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// exec runs a single-row mutation and maps "no row touched" to ErrConversationNotFound.
func (s *PostgresStore) exec(ctx context.Context, conversationID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", conversationID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrConversationNotFound)
	}

	return nil
}
