package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/dmvault/dmvault/internal/platform/codec"
)

func seedWithCharacter(t *testing.T, svc *Service) (*Encounter, *Character) {
	t.Helper()
	ch := &Character{OwnerID: "u1", Name: "Thorin", Class: "Fighter", Race: "Dwarf", Level: 3,
		MaxHitPoints: 30, ArmorClass: 18, PlayerName: "Sam"}
	if err := svc.CreateCharacter(context.Background(), ch); err != nil {
		t.Fatalf("create character: %v", err)
	}
	enc := goblinAmbush("u1")
	enc.Participants[1].CharacterID = &ch.ID
	if err := svc.CreateEncounter(context.Background(), enc); err != nil {
		t.Fatalf("create encounter: %v", err)
	}
	return enc, ch
}

func TestBuildExportDocument_Defaults(t *testing.T) {
	svc := newTestService()
	enc, _ := seedWithCharacter(t, svc)

	doc, err := svc.BuildExportDocument(context.Background(), enc.ID.String(), "u1", codec.FormatJSON, ExportOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Metadata.ExportedBy != "u1" || doc.Metadata.FormatVersion != codec.FormatVersion || doc.Metadata.AppVersion != "test" {
		t.Errorf("unexpected metadata: %+v", doc.Metadata)
	}
	if doc.Encounter.ID != "" {
		t.Errorf("expected no encounter id by default, got %q", doc.Encounter.ID)
	}
	for i, p := range doc.Encounter.Participants {
		if !strings.HasPrefix(p.ID, "temp-") {
			t.Errorf("participant %d: expected temporary id, got %q", i, p.ID)
		}
		if p.CharacterSheet != nil || p.CharacterID != "" {
			t.Errorf("participant %d: expected no character data by default", i)
		}
	}
	if doc.Encounter.Participants[0].Notes != "" {
		t.Error("expected private notes to be omitted by default")
	}
}

func TestBuildExportDocument_AllOptions(t *testing.T) {
	svc := newTestService()
	enc, ch := seedWithCharacter(t, svc)

	opts := ExportOptions{IncludeCharacterSheets: true, IncludePrivateNotes: true, IncludeIDs: true, StripPersonalData: true}
	doc, err := svc.BuildExportDocument(context.Background(), enc.ID.String(), "u1", codec.FormatXML, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Metadata.ExportedBy != "" {
		t.Errorf("expected exportedBy stripped, got %q", doc.Metadata.ExportedBy)
	}
	if doc.Encounter.ID != enc.ID.String() {
		t.Errorf("expected encounter id %s, got %s", enc.ID, doc.Encounter.ID)
	}
	goblin, thorin := doc.Encounter.Participants[0], doc.Encounter.Participants[1]
	if goblin.ID != enc.Participants[0].ID.String() || goblin.Notes != "secret" {
		t.Errorf("unexpected goblin record: %+v", goblin)
	}
	if thorin.CharacterID != ch.ID.String() {
		t.Errorf("expected characterId %s, got %s", ch.ID, thorin.CharacterID)
	}
	if thorin.CharacterSheet == nil || thorin.CharacterSheet.Class != "Fighter" {
		t.Fatalf("expected character sheet, got %+v", thorin.CharacterSheet)
	}
	if thorin.CharacterSheet.PlayerName != "" {
		t.Error("expected playerName stripped")
	}
}

func TestBuildExportDocument_AccessDenied(t *testing.T) {
	svc := newTestService()
	enc, _ := seedWithCharacter(t, svc)

	_, err := svc.BuildExportDocument(context.Background(), enc.ID.String(), "intruder", codec.FormatJSON, ExportOptions{})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	for _, format := range []string{codec.FormatJSON, codec.FormatXML} {
		t.Run(format, func(t *testing.T) {
			svc := newTestService()
			enc, _ := seedWithCharacter(t, svc)
			opts := ExportOptions{IncludePrivateNotes: true, IncludeCharacterSheets: true}

			var (
				data string
				err  error
			)
			if format == codec.FormatJSON {
				data, err = svc.ExportJSON(context.Background(), enc.ID.String(), "u1", opts)
			} else {
				data, err = svc.ExportXML(context.Background(), enc.ID.String(), "u1", opts)
			}
			if err != nil {
				t.Fatalf("export: %v", err)
			}

			importOpts := DefaultImportOptions("u2")
			var imported *Encounter
			if format == codec.FormatJSON {
				imported, err = svc.ImportJSON(context.Background(), data, importOpts)
			} else {
				imported, err = svc.ImportXML(context.Background(), data, importOpts)
			}
			if err != nil {
				t.Fatalf("import: %v", err)
			}

			if imported.ID == enc.ID {
				t.Error("expected a new encounter id")
			}
			if imported.OwnerID != "u2" || imported.Name != enc.Name || imported.TargetLevel != 3 {
				t.Errorf("unexpected imported encounter: %+v", imported)
			}
			if len(imported.Participants) != 2 {
				t.Fatalf("expected 2 participants, got %d", len(imported.Participants))
			}
			if imported.Participants[0].Notes != "secret" || *imported.Participants[0].Initiative != 12 {
				t.Errorf("unexpected participant: %+v", imported.Participants[0])
			}
			// The sheet had no resolvable id, so a new character was created for u2.
			cid := imported.Participants[1].CharacterID
			if cid == nil {
				t.Fatal("expected missing character to be created")
			}
			ch, err := svc.GetCharacter(context.Background(), cid.String())
			if err != nil || ch.OwnerID != "u2" || ch.Name != "Thorin" {
				t.Errorf("unexpected created character: %+v, %v", ch, err)
			}
		})
	}
}

func TestExportJSON_EmptyListsAreArrays(t *testing.T) {
	svc := newTestService()
	enc := &Encounter{OwnerID: "u1", Name: "Bare", Participants: []Participant{
		{Name: "Rat", Type: ParticipantMonster, MaxHitPoints: 1},
	}}
	if err := svc.CreateEncounter(context.Background(), enc); err != nil {
		t.Fatalf("create: %v", err)
	}
	enc.Participants[0].Conditions = nil

	out, err := svc.ExportJSON(context.Background(), enc.ID.String(), "u1", ExportOptions{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var doc struct {
		Encounter struct {
			Tags         []interface{} `json:"tags"`
			Participants []struct {
				Conditions []interface{} `json:"conditions"`
			} `json:"participants"`
		} `json:"encounter"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Encounter.Tags == nil || doc.Encounter.Participants[0].Conditions == nil {
		t.Errorf("expected empty arrays rather than null: %s", out)
	}
}

func TestImportJSON_MinimalDocument(t *testing.T) {
	svc := newTestService()
	enc, err := svc.ImportJSON(context.Background(), `{"encounter":{"name":"Goblin Ambush"}}`, DefaultImportOptions("u1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.Name != "Goblin Ambush" || enc.ParticipantCount() != 0 || enc.Status != StatusDraft {
		t.Errorf("unexpected encounter: %+v", enc)
	}
}

func TestImportJSON_ParseError(t *testing.T) {
	svc := newTestService()
	_, err := svc.ImportJSON(context.Background(), `{"encounter":`, DefaultImportOptions("u1"))
	if !errors.Is(err, codec.ErrParse) {
		t.Errorf("expected codec.ErrParse, got %v", err)
	}
}

func TestImportJSON_Rejected(t *testing.T) {
	svc := newTestService()
	_, err := svc.ImportJSON(context.Background(), `{"encounter":{"name":""}}`, DefaultImportOptions("u1"))
	if !IsRejection(err) {
		t.Errorf("expected rejection for missing name, got %v", err)
	}
}

func TestImportDocument_PreserveIDs(t *testing.T) {
	svc := newTestService()
	id := uuid.New()
	pid := uuid.New()
	doc := &codec.ExportDocument{Encounter: codec.Encounter{
		ID:   id.String(),
		Name: "Kept",
		Participants: []codec.Participant{
			{ID: pid.String(), Name: "Ogre", Type: ParticipantMonster},
			{ID: "temp-1", Name: "Rat", Type: ParticipantMonster},
		},
	}}
	opts := DefaultImportOptions("u1")
	opts.PreserveIDs = true

	enc, err := svc.ImportDocument(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.ID != id || enc.Participants[0].ID != pid {
		t.Errorf("expected ids preserved, got %s / %s", enc.ID, enc.Participants[0].ID)
	}
	if enc.Participants[1].ID == uuid.Nil {
		t.Error("expected a generated id for a temporary participant id")
	}

	// Same id again without overwrite is refused.
	if _, err := svc.ImportDocument(context.Background(), doc, opts); !IsRejection(err) {
		t.Errorf("expected rejection for existing encounter, got %v", err)
	}

	// Overwrite by a different owner is denied.
	other := opts
	other.OwnerID = "u2"
	other.OverwriteExisting = true
	if _, err := svc.ImportDocument(context.Background(), doc, other); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	// Overwrite by the owner replaces the encounter in place.
	opts.OverwriteExisting = true
	doc.Encounter.Name = "Replaced"
	enc, err = svc.ImportDocument(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ := svc.GetEncounter(context.Background(), id.String())
	if got.Name != "Replaced" || enc.ID != id {
		t.Errorf("expected encounter replaced, got %q", got.Name)
	}
}

func TestImportDocument_CharacterResolution(t *testing.T) {
	svc := newTestService()
	existing := &Character{OwnerID: "u1", Name: "Lia", Level: 2}
	svc.CreateCharacter(context.Background(), existing)

	sheet := &codec.CharacterSheet{Name: "Ghost", Level: 1}
	doc := &codec.ExportDocument{Encounter: codec.Encounter{
		Name: "Links",
		Participants: []codec.Participant{
			{Name: "Lia", Type: ParticipantPC, CharacterID: existing.ID.String()},
			{Name: "Ghost", Type: ParticipantPC, CharacterID: uuid.New().String(), CharacterSheet: sheet},
			{Name: "Nobody", Type: ParticipantPC, CharacterID: uuid.New().String()},
		},
	}}

	enc, err := svc.ImportDocument(context.Background(), doc, DefaultImportOptions("u1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.Participants[0].CharacterID == nil || *enc.Participants[0].CharacterID != existing.ID {
		t.Error("expected existing character to be linked")
	}
	if enc.Participants[1].CharacterID == nil {
		t.Error("expected missing character to be created from its sheet")
	}
	if enc.Participants[2].CharacterID != nil {
		t.Error("expected unresolvable reference without a sheet to be unlinked")
	}

	noCreate := DefaultImportOptions("u1")
	noCreate.CreateMissingCharacters = false
	enc, err = svc.ImportDocument(context.Background(), doc, noCreate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.Participants[1].CharacterID != nil {
		t.Error("expected missing character to be unlinked when creation is disabled")
	}
}

func TestImportDocument_ForeignCharacterNotLinked(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	secret := &Character{OwnerID: "victim", Name: "Secret", Class: "Rogue", Level: 7, PlayerName: "Vic"}
	if err := svc.CreateCharacter(ctx, secret); err != nil {
		t.Fatalf("create character: %v", err)
	}

	doc := &codec.ExportDocument{Encounter: codec.Encounter{
		Name: "Heist",
		Participants: []codec.Participant{
			{Name: "Bare", Type: ParticipantPC, CharacterID: secret.ID.String()},
			{Name: "Sheeted", Type: ParticipantPC, CharacterID: secret.ID.String(),
				CharacterSheet: &codec.CharacterSheet{Name: "Forged", Level: 1}},
		},
	}}
	enc, err := svc.ImportDocument(ctx, doc, DefaultImportOptions("mallory"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if enc.Participants[0].CharacterID != nil {
		t.Errorf("expected another user's character to be left unlinked, got %v", enc.Participants[0].CharacterID)
	}
	cid := enc.Participants[1].CharacterID
	if cid == nil || *cid == secret.ID {
		t.Fatalf("expected a new character from the embedded sheet, got %v", cid)
	}
	if ch, _ := svc.GetCharacter(ctx, cid.String()); ch == nil || ch.OwnerID != "mallory" || ch.Name != "Forged" {
		t.Errorf("unexpected recreated character: %+v", ch)
	}

	out, err := svc.ExportJSON(ctx, enc.ID.String(), "mallory", ExportOptions{IncludeCharacterSheets: true, IncludeIDs: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Contains(out, "Secret") || strings.Contains(out, "Rogue") || strings.Contains(out, secret.ID.String()) {
		t.Errorf("export leaked another user's character: %s", out)
	}
}

func TestBuildExportDocument_SkipsForeignSheets(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	secret := &Character{OwnerID: "victim", Name: "Secret", Level: 7}
	svc.CreateCharacter(ctx, secret)

	// Stored directly so the link predates ownership checks.
	enc := goblinAmbush("mallory")
	enc.Participants[1].CharacterID = &secret.ID
	if err := svc.repo.Create(ctx, enc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc, err := svc.BuildExportDocument(ctx, enc.ID.String(), "mallory", codec.FormatJSON, ExportOptions{IncludeCharacterSheets: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.Encounter.Participants[1].CharacterSheet != nil {
		t.Errorf("expected no sheet for another user's character, got %+v", doc.Encounter.Participants[1].CharacterSheet)
	}
}

func TestImportDocument_RequiresOwner(t *testing.T) {
	svc := newTestService()
	doc := &codec.ExportDocument{Encounter: codec.Encounter{Name: "x"}}
	if _, err := svc.ImportDocument(context.Background(), doc, ImportOptions{}); !IsRejection(err) {
		t.Errorf("expected rejection, got %v", err)
	}
}
