package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"morada/internal/agent/domain"
	"morada/internal/logging"
	"morada/internal/utils/id"
)

// PostgresStore is the pgx-backed durable store adapter. Schema
// management is CREATE TABLE IF NOT EXISTS: the pool owner calls
// EnsureSchema once at process start.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps an already-configured connection pool. Pools
// are created at process start and closed at shutdown.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.NewComponentLogger("store-postgres")}
}

var _ Store = (*PostgresStore)(nil)

// EnsureSchema creates every table this store depends on if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			master_summary TEXT NOT NULL DEFAULT '',
			section_summary JSONB NOT NULL DEFAULT '{}',
			section_content JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			url TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			property_id TEXT NOT NULL,
			nickname TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT false,
			archived BOOLEAN NOT NULL DEFAULT false,
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS portfolio_items_one_active
			ON portfolio_items (user_id) WHERE is_active AND NOT archived`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			property_id TEXT NOT NULL,
			type TEXT NOT NULL,
			narrative TEXT NOT NULL DEFAULT '',
			cost_min DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost_max DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, property_id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS room_features (
			property_id TEXT NOT NULL,
			room_key TEXT NOT NULL,
			condition TEXT NOT NULL DEFAULT '',
			items JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (property_id, room_key)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message_count INT NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			ended_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_call_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			field_changed TEXT NOT NULL DEFAULT '',
			old_value TEXT NOT NULL DEFAULT '',
			new_value TEXT NOT NULL DEFAULT '',
			trigger_message TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			confirmed_by_user BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := s.pool.QueryRow(ctx, `SELECT master_summary, section_summary, section_content FROM profiles WHERE user_id = $1`, userID)
	var masterSummary string
	var summaryJSON, contentJSON []byte
	if err := row.Scan(&masterSummary, &summaryJSON, &contentJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get profile: %w", err)
	}
	summaries := map[ProfileSection]string{}
	contents := map[ProfileSection]string{}
	_ = json.Unmarshal(summaryJSON, &summaries)
	_ = json.Unmarshal(contentJSON, &contents)
	return &Profile{UserID: userID, MasterSummary: masterSummary, SectionSummary: summaries, SectionContent: contents}, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, userID string, section ProfileSection, patch map[string]any, summaries map[ProfileSection]string, masterSummary string) error {
	existing, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	sectionSummary := map[ProfileSection]string{}
	sectionContent := map[ProfileSection]string{}
	if existing != nil {
		sectionSummary, sectionContent = existing.SectionSummary, existing.SectionContent
		if masterSummary == "" {
			masterSummary = existing.MasterSummary
		}
	}
	for sec, summary := range summaries {
		sectionSummary[sec] = summary
	}
	if patch != nil {
		encoded, _ := json.Marshal(patch)
		sectionContent[section] = string(encoded)
	}
	summaryJSON, _ := json.Marshal(sectionSummary)
	contentJSON, _ := json.Marshal(sectionContent)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, master_summary, section_summary, section_content, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			master_summary = EXCLUDED.master_summary,
			section_summary = EXCLUDED.section_summary,
			section_content = EXCLUDED.section_content,
			updated_at = now()
	`, userID, masterSummary, summaryJSON, contentJSON)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// Hydrate reads the profile, portfolio and last session summary in three
// round trips (three more only when auto-provisioning a brand-new user's
// profile row: UpsertProfile's read and insert, then the re-read).
func (s *PostgresStore) Hydrate(ctx context.Context, userID string) (*HydrateResult, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		if err := s.UpsertProfile(ctx, userID, "", nil, nil, "New user, no profile yet."); err != nil {
			return nil, err
		}
		profile, err = s.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	items, err := s.ListPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]PortfolioItem, 0, len(items))
	for _, it := range items {
		if !it.Archived {
			active = append(active, it)
		}
	}

	var lastSummary string
	row := s.pool.QueryRow(ctx, `
		SELECT summary FROM conversations
		WHERE user_id = $1 AND ended_at IS NOT NULL AND summary <> ''
		ORDER BY ended_at DESC LIMIT 1
	`, userID)
	if err := row.Scan(&lastSummary); err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("store: last session summary: %w", err)
	}

	return &HydrateResult{Profile: profile, ActivePortfolioItems: active, LastSessionSummary: lastSummary}, nil
}

func (s *PostgresStore) GetPropertyByExternalID(ctx context.Context, externalID string) (*Property, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, external_id, url, data FROM properties WHERE external_id = $1`, externalID)
	var p Property
	var dataJSON []byte
	if err := row.Scan(&p.ID, &p.ExternalID, &p.URL, &dataJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get property: %w", err)
	}
	_ = json.Unmarshal(dataJSON, &p.Data)
	return &p, nil
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, p Property) (Property, error) {
	if p.ID == "" {
		p.ID = id.NewPropertyID()
	}
	dataJSON, _ := json.Marshal(p.Data)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO properties (id, external_id, url, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET url = EXCLUDED.url, data = EXCLUDED.data
	`, p.ID, p.ExternalID, p.URL, dataJSON)
	if err != nil {
		return Property{}, fmt.Errorf("store: upsert property: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPortfolioItem(ctx context.Context, userID, itemID string) (*PortfolioItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, property_id, nickname, location, price, is_active, archived, last_active_at
		FROM portfolio_items WHERE id = $1 AND user_id = $2
	`, itemID, userID)
	var it PortfolioItem
	if err := row.Scan(&it.ID, &it.UserID, &it.PropertyID, &it.Nickname, &it.Location, &it.Price, &it.IsActive, &it.Archived, &it.LastActiveAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get portfolio item: %w", err)
	}
	return &it, nil
}

func (s *PostgresStore) ListPortfolio(ctx context.Context, userID string) ([]PortfolioItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, property_id, nickname, location, price, is_active, archived, last_active_at
		FROM portfolio_items WHERE user_id = $1 ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list portfolio: %w", err)
	}
	defer rows.Close()
	var out []PortfolioItem
	for rows.Next() {
		var it PortfolioItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.PropertyID, &it.Nickname, &it.Location, &it.Price, &it.IsActive, &it.Archived, &it.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePortfolioItem(ctx context.Context, item PortfolioItem) (PortfolioItem, error) {
	if item.ID == "" {
		item.ID = id.NewPortfolioItemID()
	}
	item.LastActiveAt = time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO portfolio_items (id, user_id, property_id, nickname, location, price, is_active, archived, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.UserID, item.PropertyID, item.Nickname, item.Location, item.Price, item.IsActive, item.Archived, item.LastActiveAt)
	if err != nil {
		return PortfolioItem{}, fmt.Errorf("store: create portfolio item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdatePortfolioItem(ctx context.Context, item PortfolioItem) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE portfolio_items SET nickname = $2, location = $3, price = $4, is_active = $5, archived = $6
		WHERE id = $1
	`, item.ID, item.Nickname, item.Location, item.Price, item.IsActive, item.Archived)
	if err != nil {
		return fmt.Errorf("store: update portfolio item: %w", err)
	}
	return nil
}

// SetActive runs inside a transaction so unsetting the previous active
// item and setting the new one is atomic.
func (s *PostgresStore) SetActive(ctx context.Context, userID, itemID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin set active: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE portfolio_items SET is_active = false WHERE user_id = $1 AND is_active`, userID); err != nil {
		return fmt.Errorf("store: unset active: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE portfolio_items SET is_active = true, last_active_at = now() WHERE id = $1 AND user_id = $2`, itemID, userID)
	if err != nil {
		return fmt.Errorf("store: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: portfolio item %q not found for user", itemID)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetLatestAnalysis(ctx context.Context, userID, propertyID string, kind AnalysisType) (*Analysis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, property_id, type, narrative, cost_min, cost_max, confidence, data
		FROM analyses WHERE user_id = $1 AND property_id = $2 AND type = $3
		ORDER BY created_at DESC LIMIT 1
	`, userID, propertyID, kind)
	var a Analysis
	var dataJSON []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.PropertyID, &a.Type, &a.Narrative, &a.CostMin, &a.CostMax, &a.Confidence, &dataJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get latest analysis: %w", err)
	}
	_ = json.Unmarshal(dataJSON, &a.Data)
	return &a, nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a Analysis) (Analysis, error) {
	if a.ID == "" {
		a.ID = id.NewAnalysisID()
	}
	dataJSON, _ := json.Marshal(a.Data)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (id, user_id, property_id, type, narrative, cost_min, cost_max, confidence, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, property_id, type) DO UPDATE SET
			narrative = EXCLUDED.narrative, cost_min = EXCLUDED.cost_min, cost_max = EXCLUDED.cost_max,
			confidence = EXCLUDED.confidence, data = EXCLUDED.data
	`, a.ID, a.UserID, a.PropertyID, a.Type, a.Narrative, a.CostMin, a.CostMax, a.Confidence, dataJSON)
	if err != nil {
		return Analysis{}, fmt.Errorf("store: create analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAnalysis(ctx context.Context, a Analysis) error {
	_, err := s.CreateAnalysis(ctx, a)
	return err
}

func (s *PostgresStore) GetRoomFeatures(ctx context.Context, propertyID string) ([]RoomFeatures, error) {
	rows, err := s.pool.Query(ctx, `SELECT room_key, condition, items FROM room_features WHERE property_id = $1`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("store: get room features: %w", err)
	}
	defer rows.Close()
	var out []RoomFeatures
	for rows.Next() {
		var rf RoomFeatures
		var itemsJSON []byte
		rf.PropertyID = propertyID
		if err := rows.Scan(&rf.RoomKey, &rf.Condition, &itemsJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(itemsJSON, &rf.Items)
		out = append(out, rf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRoomFeatures(ctx context.Context, propertyID string, features []RoomFeatures) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin save room features: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, rf := range features {
		itemsJSON, _ := json.Marshal(rf.Items)
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_features (property_id, room_key, condition, items)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (property_id, room_key) DO UPDATE SET condition = EXCLUDED.condition, items = EXCLUDED.items
		`, propertyID, rf.RoomKey, rf.Condition, itemsJSON); err != nil {
			return fmt.Errorf("store: save room features: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID string) (string, error) {
	convID := id.NewConversationID()
	_, err := s.pool.Exec(ctx, `INSERT INTO conversations (id, user_id) VALUES ($1, $2)`, convID, userID)
	if err != nil {
		s.logger.Warn("create conversation failed for user %s: %v", userID, err)
		return "", fmt.Errorf("store: create conversation: %w", err)
	}
	return convID, nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, conversationID, summary string) error {
	_, err := s.pool.Exec(ctx, `UPDATE conversations SET summary = $2, ended_at = now() WHERE id = $1`, conversationID, summary)
	if err != nil {
		return fmt.Errorf("store: end conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementMessageCount(ctx context.Context, conversationID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE conversations SET message_count = message_count + 1 WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("store: increment message count: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, role, content string, toolCalls []map[string]any, toolCallID string) error {
	var toolCallsJSON []byte
	if len(toolCalls) > 0 {
		toolCallsJSON, _ = json.Marshal(toolCalls)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5)
	`, conversationID, role, content, toolCallsJSON, toolCallID)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// LogAction writes the audit trail entry. Tools apply it as their last
// durable effect, after the mutation it records; a failure here reaches the
// tool as an error command (a tool message, not a failed turn) while the
// mutation stays applied. No retry of the log write is queued.
func (s *PostgresStore) LogAction(ctx context.Context, entry domain.ActionLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO action_log (user_id, conversation_id, message_id, action_type, entity_type, entity_id,
			field_changed, old_value, new_value, trigger_message, confidence, confirmed_by_user)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, entry.UserID, entry.ConversationID, entry.MessageID, entry.ActionType, entry.EntityType, entry.EntityID,
		entry.FieldChanged, entry.OldValue, entry.NewValue, entry.TriggerMessage, entry.Confidence, entry.ConfirmedByUser)
	if err != nil {
		return fmt.Errorf("store: log action: %w", err)
	}
	return nil
}
