package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BotStatus is Bot's lifecycle per §3: created → active/inactive → soft-deleted.
type BotStatus string

const (
	BotStatusCreated     BotStatus = "created"
	BotStatusActive      BotStatus = "active"
	BotStatusInactive    BotStatus = "inactive"
	BotStatusSoftDeleted BotStatus = "soft_deleted"
)

// ErrNoProviderConfig is returned by ActivateBot when the bot has no
// provider configuration yet — activation is invalid without one.
var ErrNoProviderConfig = errors.New("store: bot cannot become active without a provider configuration")

// Bot is the persisted tenant identity of §3.
type Bot struct {
	ID                  string          `db:"id"`
	PublicKey           string          `db:"public_key"`
	ProviderConfigID    sql.NullString  `db:"provider_config_id"`
	DisplayConfig       json.RawMessage `db:"display_config"`
	CollectionName      string          `db:"collection_name"`
	Description         string          `db:"description"`
	AssessmentQuestions json.RawMessage `db:"assessment_questions"`
	Status              BotStatus       `db:"status"`
	DeletedAt           sql.NullTime    `db:"deleted_at"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// collectionNameFor derives the vector store collection name from a bot id,
// substituting characters sqlite-vec's identifier rules disallow — grounded
// on original_source's collection-naming convention (underscore substitution).
func collectionNameFor(botID string) string {
	out := make([]byte, 0, len(botID)+4)
	out = append(out, "bot_"...)
	for _, r := range botID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// CreateBot inserts a new Bot in the "created" status.
func (s *Store) CreateBot(ctx context.Context, id, publicKey, description string) (Bot, error) {
	collection := collectionNameFor(id)
	const q = `
INSERT INTO bots (id, public_key, collection_name, description, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, public_key, provider_config_id, display_config, collection_name,
          description, assessment_questions, status, deleted_at, created_at, updated_at`
	var b Bot
	if err := s.db.GetContext(ctx, &b, q, id, publicKey, collection, description, BotStatusCreated); err != nil {
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	return b, nil
}

// GetBot fetches a bot by id.
func (s *Store) GetBot(ctx context.Context, id string) (Bot, error) {
	const q = `SELECT * FROM bots WHERE id = $1`
	var b Bot
	if err := s.db.GetContext(ctx, &b, q, id); err != nil {
		return Bot{}, fmt.Errorf("get bot %s: %w", id, err)
	}
	return b, nil
}

// ListActiveBots returns every bot currently in the active status, the set
// internal/ingestworker's recrawl scheduler walks on each cron tick.
func (s *Store) ListActiveBots(ctx context.Context) ([]Bot, error) {
	const q = `SELECT * FROM bots WHERE status = $1 AND deleted_at IS NULL ORDER BY id`
	var bots []Bot
	if err := s.db.SelectContext(ctx, &bots, q, BotStatusActive); err != nil {
		return nil, fmt.Errorf("list active bots: %w", err)
	}
	return bots, nil
}

// ActivateBot transitions a bot to active. Invariant (§3): a bot cannot
// enter active unless a provider configuration exists.
func (s *Store) ActivateBot(ctx context.Context, botID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var providerConfigID sql.NullString
	if err := tx.GetContext(ctx, &providerConfigID, `SELECT provider_config_id FROM bots WHERE id = $1 FOR UPDATE`, botID); err != nil {
		return fmt.Errorf("lock bot %s: %w", botID, err)
	}
	if !providerConfigID.Valid || providerConfigID.String == "" {
		return ErrNoProviderConfig
	}

	if _, err := tx.ExecContext(ctx, `UPDATE bots SET status = $1, updated_at = now() WHERE id = $2`, BotStatusActive, botID); err != nil {
		return fmt.Errorf("activate bot %s: %w", botID, err)
	}
	return tx.Commit()
}

// DeactivateBot transitions a bot to inactive.
func (s *Store) DeactivateBot(ctx context.Context, botID string) error {
	const q = `UPDATE bots SET status = $1, updated_at = now() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, q, BotStatusInactive, botID); err != nil {
		return fmt.Errorf("deactivate bot %s: %w", botID, err)
	}
	return nil
}

// SoftDeleteBot marks a bot deleted without removing its row.
func (s *Store) SoftDeleteBot(ctx context.Context, botID string) error {
	const q = `UPDATE bots SET status = $1, deleted_at = now(), updated_at = now() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, q, BotStatusSoftDeleted, botID); err != nil {
		return fmt.Errorf("soft-delete bot %s: %w", botID, err)
	}
	return nil
}

// SetProviderConfigRef attaches a provider config id to a bot, the
// precondition ActivateBot checks for.
func (s *Store) SetProviderConfigRef(ctx context.Context, botID, providerConfigID string) error {
	const q = `UPDATE bots SET provider_config_id = $1, updated_at = now() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, q, providerConfigID, botID); err != nil {
		return fmt.Errorf("set provider config ref: %w", err)
	}
	return nil
}

// AllowedOrigin is the one-to-one CORS/crawl-scoping record of §3.
type AllowedOrigin struct {
	BotID         string          `db:"bot_id"`
	OriginURL     string          `db:"origin_url"`
	CrawlSeedURLs json.RawMessage `db:"crawl_seed_urls"`
}

// UpsertAllowedOrigin creates or replaces a bot's allowed origin record.
func (s *Store) UpsertAllowedOrigin(ctx context.Context, botID, originURL string, crawlSeedURLs []string) error {
	seeds, err := json.Marshal(crawlSeedURLs)
	if err != nil {
		return fmt.Errorf("marshal crawl seed urls: %w", err)
	}
	const q = `
INSERT INTO allowed_origins (bot_id, origin_url, crawl_seed_urls)
VALUES ($1, $2, $3)
ON CONFLICT (bot_id) DO UPDATE SET origin_url = $2, crawl_seed_urls = $3`
	if _, err := s.db.ExecContext(ctx, q, botID, originURL, seeds); err != nil {
		return fmt.Errorf("upsert allowed origin: %w", err)
	}
	return nil
}

// GetAllowedOrigin fetches a bot's CORS/crawl-scoping record.
func (s *Store) GetAllowedOrigin(ctx context.Context, botID string) (AllowedOrigin, error) {
	const q = `SELECT * FROM allowed_origins WHERE bot_id = $1`
	var a AllowedOrigin
	if err := s.db.GetContext(ctx, &a, q, botID); err != nil {
		return AllowedOrigin{}, fmt.Errorf("get allowed origin %s: %w", botID, err)
	}
	return a, nil
}

// CredentialEntry is one encrypted key-pool entry, per §3's "list of
// encrypted credential entries {ciphertext, label, active}" invariant.
type CredentialEntry struct {
	Ciphertext string `json:"ciphertext"`
	Label      string `json:"label"`
	Active     bool   `json:"active"`
}

// ProviderConfig binds a bot to a provider/model and its encrypted key pool.
type ProviderConfig struct {
	ID          string          `db:"id"`
	BotID       string          `db:"bot_id"`
	Provider    string          `db:"provider"`
	Model       string          `db:"model"`
	Credentials json.RawMessage `db:"credentials"`
	Tuning      json.RawMessage `db:"tuning"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// CreateProviderConfig inserts a ProviderConfig row. Credential material
// must already be encrypted by the caller — this layer never sees plaintext.
func (s *Store) CreateProviderConfig(ctx context.Context, id, botID, provider, model string, creds []CredentialEntry) (ProviderConfig, error) {
	for _, c := range creds {
		if c.Ciphertext == "" {
			return ProviderConfig{}, fmt.Errorf("create provider config: credential %q has empty ciphertext", c.Label)
		}
	}
	credsJSON, err := json.Marshal(creds)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("marshal credentials: %w", err)
	}
	const q = `
INSERT INTO provider_configs (id, bot_id, provider, model, credentials)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, bot_id, provider, model, credentials, tuning, created_at, updated_at`
	var pc ProviderConfig
	if err := s.db.GetContext(ctx, &pc, q, id, botID, provider, model, credsJSON); err != nil {
		return ProviderConfig{}, fmt.Errorf("create provider config: %w", err)
	}
	return pc, nil
}

// GetProviderConfig fetches a provider config by id.
func (s *Store) GetProviderConfig(ctx context.Context, id string) (ProviderConfig, error) {
	const q = `SELECT * FROM provider_configs WHERE id = $1`
	var pc ProviderConfig
	if err := s.db.GetContext(ctx, &pc, q, id); err != nil {
		return ProviderConfig{}, fmt.Errorf("get provider config %s: %w", id, err)
	}
	return pc, nil
}
