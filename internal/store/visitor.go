package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LeadCategory buckets a Visitor's engagement level per §3/§4.5.
type LeadCategory string

const (
	LeadCold LeadCategory = "cold"
	LeadWarm LeadCategory = "warm"
	LeadHot  LeadCategory = "hot"
)

// Visitor is an anonymous-until-identified chat participant, keyed on
// (bot_id, client_ip) so repeat visits from the same IP resolve to one row.
type Visitor struct {
	ID           string          `db:"id"`
	BotID        string          `db:"bot_id"`
	ClientIP     string          `db:"client_ip"`
	Name         string          `db:"name"`
	Email        string          `db:"email"`
	Phone        string          `db:"phone"`
	Address      string          `db:"address"`
	LeadScore    float64         `db:"lead_score"`
	LeadCategory LeadCategory    `db:"lead_category"`
	Assessment   json.RawMessage `db:"assessment"`
	IsNew        bool            `db:"is_new"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// GetOrCreateVisitor resolves the visitor for (botID, clientIP), creating a
// new one (is_new=true) when this is the first time this IP has been seen
// for this bot.
func (s *Store) GetOrCreateVisitor(ctx context.Context, id, botID, clientIP string) (Visitor, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Visitor{}, fmt.Errorf("begin visitor tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v Visitor
	err = tx.GetContext(ctx, &v, `SELECT * FROM visitors WHERE bot_id = $1 AND client_ip = $2`, botID, clientIP)
	if err == nil {
		if v.IsNew {
			if _, err := tx.ExecContext(ctx, `UPDATE visitors SET is_new = false, updated_at = now() WHERE id = $1`, v.ID); err != nil {
				return Visitor{}, fmt.Errorf("clear is_new for visitor %s: %w", v.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return Visitor{}, err
		}
		return v, nil
	}

	const q = `
INSERT INTO visitors (id, bot_id, client_ip, lead_category, is_new)
VALUES ($1, $2, $3, $4, true)
RETURNING id, bot_id, client_ip, name, email, phone, address, lead_score,
          lead_category, assessment, is_new, created_at, updated_at`
	if err := tx.GetContext(ctx, &v, q, id, botID, clientIP, LeadCold); err != nil {
		return Visitor{}, fmt.Errorf("create visitor: %w", err)
	}
	return v, tx.Commit()
}

// GetVisitor fetches a visitor by id.
func (s *Store) GetVisitor(ctx context.Context, id string) (Visitor, error) {
	const q = `SELECT * FROM visitors WHERE id = $1`
	var v Visitor
	if err := s.db.GetContext(ctx, &v, q, id); err != nil {
		return Visitor{}, fmt.Errorf("get visitor %s: %w", id, err)
	}
	return v, nil
}

// UpdateVisitorContact records identifying details captured during a chat
// (name/email/phone/address), whatever subset the conversation surfaced.
func (s *Store) UpdateVisitorContact(ctx context.Context, id, name, email, phone, address string) error {
	const q = `
UPDATE visitors SET
  name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
  email = CASE WHEN $3 <> '' THEN $3 ELSE email END,
  phone = CASE WHEN $4 <> '' THEN $4 ELSE phone END,
  address = CASE WHEN $5 <> '' THEN $5 ELSE address END,
  updated_at = now()
WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, name, email, phone, address); err != nil {
		return fmt.Errorf("update visitor contact %s: %w", id, err)
	}
	return nil
}

// SetLeadScore records a grading worker's computed score and the category
// it maps to (§4.5 hot/warm/cold thresholds are the caller's concern).
func (s *Store) SetLeadScore(ctx context.Context, id string, score float64, category LeadCategory) error {
	const q = `UPDATE visitors SET lead_score = $2, lead_category = $3, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, score, category); err != nil {
		return fmt.Errorf("set lead score for visitor %s: %w", id, err)
	}
	return nil
}

// SetAssessment stores a visitor's answers to the bot's assessment
// questions as opaque JSON.
func (s *Store) SetAssessment(ctx context.Context, id string, assessment json.RawMessage) error {
	const q = `UPDATE visitors SET assessment = $2, updated_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, assessment); err != nil {
		return fmt.Errorf("set assessment for visitor %s: %w", id, err)
	}
	return nil
}
