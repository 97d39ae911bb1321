package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/db"
	"github.com/dmvault/dmvault/migrations"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stubService wraps a real encounter service and lets tests inject
// failures per encounter id and inspect the import options it received.
type stubService struct {
	EncounterService

	mu          sync.Mutex
	exportErr   map[string]error
	getErr      map[string]error
	listErr     error
	importOpts  []encounter.ImportOptions
	importCalls int
}

func (s *stubService) ExportJSON(ctx context.Context, id, userID string, opts encounter.ExportOptions) (string, error) {
	if err := s.exportErr[id]; err != nil {
		return "", err
	}
	return s.EncounterService.ExportJSON(ctx, id, userID, opts)
}

func (s *stubService) ExportXML(ctx context.Context, id, userID string, opts encounter.ExportOptions) (string, error) {
	if err := s.exportErr[id]; err != nil {
		return "", err
	}
	return s.EncounterService.ExportXML(ctx, id, userID, opts)
}

func (s *stubService) GetEncounter(ctx context.Context, id string) (*encounter.Encounter, error) {
	if err := s.getErr[id]; err != nil {
		return nil, err
	}
	return s.EncounterService.GetEncounter(ctx, id)
}

func (s *stubService) ListEncountersByOwner(ctx context.Context, ownerID string) ([]*encounter.Encounter, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.EncounterService.ListEncountersByOwner(ctx, ownerID)
}

func (s *stubService) ImportJSON(ctx context.Context, data string, opts encounter.ImportOptions) (*encounter.Encounter, error) {
	s.record(opts)
	return s.EncounterService.ImportJSON(ctx, data, opts)
}

func (s *stubService) ImportXML(ctx context.Context, data string, opts encounter.ImportOptions) (*encounter.Encounter, error) {
	s.record(opts)
	return s.EncounterService.ImportXML(ctx, data, opts)
}

func (s *stubService) record(opts encounter.ImportOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.importOpts = append(s.importOpts, opts)
	s.importCalls++
}

type fixture struct {
	svc  *encounter.Service
	stub *stubService
	orch *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlDB, err := db.OpenSQLite(context.Background(), ":memory:", migrations.SQLite())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	svc := encounter.NewService(encounter.NewSQLiteRepo(sqlDB))
	svc.SetAppVersion("test")
	stub := &stubService{
		EncounterService: svc,
		exportErr:        map[string]error{},
		getErr:           map[string]error{},
	}
	orch := NewOrchestrator(stub)
	orch.SetLogger(zerolog.Nop())
	orch.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, stub: stub, orch: orch}
}

func intPtr(n int) *int { return &n }

func goblinAmbush(owner string) *encounter.Encounter {
	return &encounter.Encounter{
		OwnerID:     owner,
		Name:        "Goblin Ambush",
		Description: "Goblins on the road",
		Tags:        []string{"forest"},
		Difficulty:  "medium",
		TargetLevel: 3,
		Participants: []encounter.Participant{
			{Name: "Goblin", Type: encounter.ParticipantMonster, MaxHitPoints: 7, CurrentHitPoints: 7, ArmorClass: 15,
				Initiative: intPtr(12), Notes: "flees at half hp"},
			{Name: "Thorin", Type: encounter.ParticipantPC, MaxHitPoints: 30, CurrentHitPoints: 30, ArmorClass: 18, IsPlayer: true},
		},
	}
}

func (f *fixture) seed(t *testing.T, enc *encounter.Encounter) *encounter.Encounter {
	t.Helper()
	if err := f.svc.CreateEncounter(context.Background(), enc); err != nil {
		t.Fatalf("seed %q: %v", enc.Name, err)
	}
	return enc
}

func (f *fixture) seedNamed(t *testing.T, owner, name string) *encounter.Encounter {
	t.Helper()
	enc := goblinAmbush(owner)
	enc.Name = name
	return f.seed(t, enc)
}

func expectKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *transfer.Error of kind %s, got %v", kind, err)
	}
	if te.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, te.Kind, err)
	}
	return te
}
