package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"github.com/google/uuid"
)

// Entry is an audit record before it is stamped with an id and time.
type Entry struct {
	Type       auditmodel.EventType
	EntityType auditmodel.EntityType
	EntityID   int64
	ActorID    *int64
	Message    string
	Details    map[string]interface{}
}

// Actor maps an admin id to the audit actor column; zero means the system acted.
func Actor(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// ToEvent stamps the entry into a persistable row. Ids are UUIDv7, so rows written in the
// same instant still sort in the order they were recorded.
func (e Entry) ToEvent(now time.Time) (*auditmodel.Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate audit id: %w", err)
	}
	details := ""
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(raw)
	}
	return &auditmodel.Event{
		ID:         id.String(),
		EventType:  e.Type,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Message:    e.Message,
		Details:    details,
		CreatedAt:  now.UTC(),
	}, nil
}

// Repository appends audit rows. Implementations bound to a transaction write inside it.
type Repository interface {
	Record(ctx context.Context, entries ...Entry) error
	ListByEntity(ctx context.Context, entityType auditmodel.EntityType, entityID int64, limit int) ([]auditmodel.Event, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

const defaultListLimit = 500

// Trail returns an entity's audit events, oldest first.
func (s *Service) Trail(ctx context.Context, entityType auditmodel.EntityType, entityID int64) ([]auditmodel.Event, error) {
	if entityID <= 0 {
		return nil, internal.NewValidationFieldError("entity_id", "entity_id must be positive", internal.ErrCodeValidationFailed)
	}
	events, err := s.repo.ListByEntity(ctx, entityType, entityID, defaultListLimit)
	if err != nil {
		s.logger.Error("failed to load audit trail", "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, internal.NewInternalError("failed to load audit trail", err)
	}
	return events, nil
}
