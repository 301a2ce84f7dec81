package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dagster-alert/internal/logging"
	"dagster-alert/internal/models"
)

const rulesKey = "alerts/rules"

// RuleStore owns the durable rule collection. All mutations are
// read-modify-write over the whole collection under one key, serialized
// behind a single mutex so concurrent writers cannot drop each other's
// updates. Across processes the semantics stay last-writer-wins.
type RuleStore struct {
	mu  sync.Mutex
	kv  KV
	log zerolog.Logger
	now func() time.Time
}

func NewRuleStore(kv KV) *RuleStore {
	return &RuleStore{
		kv:  kv,
		log: logging.WithComponent("rule-store"),
		now: time.Now,
	}
}

// RulePatch is a shallow field merge applied by Update. Nil fields are
// left untouched.
type RulePatch struct {
	Name               *string           `json:"name,omitempty"`
	Type               *models.AlertType `json:"type,omitempty"`
	TargetID           *string           `json:"targetId,omitempty"`
	TargetName         *string           `json:"targetName,omitempty"`
	Enabled            *bool             `json:"enabled,omitempty"`
	LastChecked        *time.Time        `json:"lastChecked,omitempty"`
	LastTriggered      *time.Time        `json:"lastTriggered,omitempty"`
	LastTriggeredRunID *string           `json:"lastTriggeredRunId,omitempty"`
}

func (s *RuleStore) List(ctx context.Context) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Add persists a new rule. ID, CreatedAt and the enabled default are
// assigned here; a caller-supplied ID is kept to allow restores.
func (s *RuleStore) Add(ctx context.Context, rule models.Rule) (models.Rule, error) {
	if err := rule.Validate(); err != nil {
		return models.Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.now()
		rule.Enabled = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.load(ctx)
	if err != nil {
		return models.Rule{}, err
	}
	rules = append(rules, rule)
	if err := s.save(ctx, rules); err != nil {
		return models.Rule{}, err
	}
	return rule, nil
}

func (s *RuleStore) Update(ctx context.Context, id string, patch RulePatch) (models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.load(ctx)
	if err != nil {
		return models.Rule{}, err
	}
	for i := range rules {
		if rules[i].ID != id {
			continue
		}
		applyPatch(&rules[i], patch)
		if err := s.save(ctx, rules); err != nil {
			return models.Rule{}, err
		}
		return rules[i], nil
	}
	return models.Rule{}, ErrNotFound
}

// Delete removes a rule. Deleting an unknown id is a no-op.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := rules[:0]
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rules) {
		return nil
	}
	return s.save(ctx, kept)
}

// Toggle flips the enabled flag.
func (s *RuleStore) Toggle(ctx context.Context, id string) (models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.load(ctx)
	if err != nil {
		return models.Rule{}, err
	}
	for i := range rules {
		if rules[i].ID != id {
			continue
		}
		rules[i].Enabled = !rules[i].Enabled
		if err := s.save(ctx, rules); err != nil {
			return models.Rule{}, err
		}
		return rules[i], nil
	}
	return models.Rule{}, ErrNotFound
}

func applyPatch(r *models.Rule, patch RulePatch) {
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Type != nil {
		r.Type = *patch.Type
	}
	if patch.TargetID != nil {
		r.TargetID = *patch.TargetID
	}
	if patch.TargetName != nil {
		r.TargetName = *patch.TargetName
	}
	if patch.Enabled != nil {
		r.Enabled = *patch.Enabled
	}
	if patch.LastChecked != nil {
		r.LastChecked = *patch.LastChecked
	}
	if patch.LastTriggered != nil {
		r.LastTriggered = *patch.LastTriggered
	}
	if patch.LastTriggeredRunID != nil {
		r.LastTriggeredRunID = *patch.LastTriggeredRunID
	}
}

func (s *RuleStore) load(ctx context.Context) ([]models.Rule, error) {
	data, err := s.kv.Get(ctx, rulesKey)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if data == nil {
		return []models.Rule{}, nil
	}
	var rules []models.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		// A corrupt blob should not brick the engine; start fresh but
		// keep the evidence in the log.
		s.log.Error().Err(err).Msg("rule collection is corrupt, treating as empty")
		return []models.Rule{}, nil
	}
	return rules, nil
}

func (s *RuleStore) save(ctx context.Context, rules []models.Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	if err := s.kv.Set(ctx, rulesKey, data); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}
