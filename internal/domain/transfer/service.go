package transfer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dmvault/dmvault/internal/domain/encounter"
)

// EncounterService is the domain collaborator the orchestrators drive.
// *encounter.Service satisfies it.
type EncounterService interface {
	ExportJSON(ctx context.Context, id, userID string, opts encounter.ExportOptions) (string, error)
	ExportXML(ctx context.Context, id, userID string, opts encounter.ExportOptions) (string, error)
	ImportJSON(ctx context.Context, data string, opts encounter.ImportOptions) (*encounter.Encounter, error)
	ImportXML(ctx context.Context, data string, opts encounter.ImportOptions) (*encounter.Encounter, error)
	GetEncounter(ctx context.Context, id string) (*encounter.Encounter, error)
	ListEncountersByOwner(ctx context.Context, ownerID string) ([]*encounter.Encounter, error)
	UpdateEncounter(ctx context.Context, enc *encounter.Encounter) error
	DeleteEncounter(ctx context.Context, id string) error
	CloneEncounter(ctx context.Context, id, newName string) (*encounter.Encounter, error)
	CreateTemplate(ctx context.Context, id, userID, name string) (*encounter.Encounter, error)
}

var _ EncounterService = (*encounter.Service)(nil)

// Orchestrator runs export, import, backup, restore and batch operations on
// behalf of an authenticated user. The user id is always passed in
// explicitly.
type Orchestrator struct {
	svc         EncounterService
	logger      zerolog.Logger
	concurrency int
	now         func() time.Time
}

func NewOrchestrator(svc EncounterService) *Orchestrator {
	return &Orchestrator{
		svc:         svc,
		logger:      log.Logger.With().Str("component", "transfer").Logger(),
		concurrency: 1,
		now:         time.Now,
	}
}

func (o *Orchestrator) SetLogger(l zerolog.Logger) {
	o.logger = l
}

// SetConcurrency bounds how many items a backup, restore or batch processes
// at once. Values below 1 mean sequential.
func (o *Orchestrator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	o.concurrency = n
}

// logInternal records the cause of an internal failure, which never reaches
// the caller.
func (o *Orchestrator) logInternal(err *Error, op, encounterID, userID string) {
	if err.Kind != KindInternal {
		return
	}
	o.logger.Error().
		Err(err.Err).
		Str("op", op).
		Str("encounter_id", encounterID).
		Str("user_id", userID).
		Msg("transfer failed")
}
