package transfer

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/dmvault/dmvault/internal/platform/codec"
)

func TestCreateBackup_JSON(t *testing.T) {
	f := newFixture(t)
	a := f.seedNamed(t, "u1", "Goblin Ambush")
	f.seedNamed(t, "u1", "Dragon Lair")
	f.seedNamed(t, "u2", "Not Mine")

	p, err := f.orch.CreateBackup(context.Background(), "u1", BackupOptions{Format: "json", IncludePrivateNotes: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^encounters-backup-\d+\.json$`).MatchString(p.Filename) {
		t.Errorf("unexpected filename %q", p.Filename)
	}
	if p.ContentType != "application/json" {
		t.Errorf("unexpected content type %q", p.ContentType)
	}

	doc, err := codec.DecodeBackupJSON(p.Data)
	if err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if doc.Metadata.UserID != "u1" || doc.Metadata.EncounterCount != 2 || doc.Metadata.Format != "json" {
		t.Errorf("unexpected metadata: %+v", doc.Metadata)
	}
	if !doc.Metadata.BackupDate.Equal(fixedNow) {
		t.Errorf("unexpected backup date %v", doc.Metadata.BackupDate)
	}
	if len(doc.Encounters) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(doc.Encounters))
	}
	if doc.Encounters[0].Encounter.ID != a.ID.String() {
		t.Errorf("expected backup entries to carry ids, got %q", doc.Encounters[0].Encounter.ID)
	}
	if doc.Encounters[0].Encounter.Participants[0].Notes == "" {
		t.Error("expected private notes in backup")
	}
}

func TestCreateBackup_OmitsFailedEntries(t *testing.T) {
	f := newFixture(t)
	f.seedNamed(t, "u1", "One")
	bad := f.seedNamed(t, "u1", "Two")
	f.seedNamed(t, "u1", "Three")
	f.stub.exportErr[bad.ID.String()] = errors.New("disk on fire")

	doc, err := f.orch.BuildBackup(context.Background(), "u1", BackupOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Metadata.EncounterCount != 3 {
		t.Errorf("expected encounterCount to report fetched encounters, got %d", doc.Metadata.EncounterCount)
	}
	if len(doc.Encounters) != 2 {
		t.Fatalf("expected failed entry omitted, got %d entries", len(doc.Encounters))
	}
	if doc.Encounters[0].Encounter.Name != "One" || doc.Encounters[1].Encounter.Name != "Three" {
		t.Errorf("unexpected entry order: %q, %q", doc.Encounters[0].Encounter.Name, doc.Encounters[1].Encounter.Name)
	}
}

func TestCreateBackup_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateBackup(ctx, "", BackupOptions{})
	expectKind(t, err, KindUnauthenticated)

	_, err = f.orch.CreateBackup(ctx, "u1", BackupOptions{Format: "csv"})
	expectKind(t, err, KindValidation)

	_, err = f.orch.CreateBackup(ctx, "u1", BackupOptions{Compress: "zip"})
	expectKind(t, err, KindValidation)

	f.stub.listErr = errors.New("pool exhausted")
	_, err = f.orch.CreateBackup(ctx, "u1", BackupOptions{})
	expectKind(t, err, KindInternal)
}

func TestCreateBackup_Gzip(t *testing.T) {
	f := newFixture(t)
	f.seedNamed(t, "u1", "Goblin Ambush")

	p, err := f.orch.CreateBackup(context.Background(), "u1", BackupOptions{Format: "xml", Compress: "gzip"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^encounters-backup-\d+\.xml\.gz$`).MatchString(p.Filename) {
		t.Errorf("unexpected filename %q", p.Filename)
	}
	if p.ContentType != "application/gzip" {
		t.Errorf("unexpected content type %q", p.ContentType)
	}
	raw, err := codec.Gunzip(p.Data)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	doc, err := codec.DecodeBackupXML(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Encounters) != 1 || doc.Encounters[0].Encounter.Name != "Goblin Ambush" {
		t.Errorf("unexpected backup: %+v", doc)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	for _, format := range []string{codec.FormatJSON, codec.FormatXML} {
		t.Run(format, func(t *testing.T) {
			f := newFixture(t)
			f.seedNamed(t, "u1", "Goblin Ambush")
			f.seedNamed(t, "u1", "Dragon Lair")

			p, err := f.orch.CreateBackup(context.Background(), "u1", BackupOptions{Format: format})
			if err != nil {
				t.Fatalf("backup: %v", err)
			}
			result, err := f.orch.Restore(context.Background(), string(p.Data), format, DefaultRestoreOptions("u2"))
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			if result.Summary.TotalEncounters != 2 || result.Summary.SuccessfullyRestored != 2 || result.Summary.Failed != 0 {
				t.Errorf("unexpected summary: %+v", result.Summary)
			}
			if result.Errors != nil {
				t.Errorf("expected no errors, got %+v", result.Errors)
			}
			if !result.Summary.BackupDate.Equal(fixedNow) {
				t.Errorf("unexpected backup date %v", result.Summary.BackupDate)
			}
			if result.Restored[0].OriginalName != "Goblin Ambush" || result.Restored[1].OriginalName != "Dragon Lair" {
				t.Errorf("unexpected restore order: %+v", result.Restored)
			}
			for _, r := range result.Restored {
				got, err := f.svc.GetEncounter(context.Background(), r.ImportedID)
				if err != nil || got.OwnerID != "u2" || r.ParticipantCount != 2 {
					t.Errorf("unexpected restored encounter %+v: %v", r, err)
				}
			}
		})
	}
}

func TestRestore_Selective(t *testing.T) {
	f := newFixture(t)
	backup := `{"metadata":{"backupDate":"2024-05-01T12:00:00Z","userId":"u1","encounterCount":3,"format":"json"},
		"encounters":[
			{"encounter":{"name":"A"}},
			{"encounter":{"name":""}},
			{"encounter":{"name":"C"}}
		]}`

	opts := DefaultRestoreOptions("u1")
	opts.SelectiveRestore = []string{"A", "C"}
	result, err := f.orch.Restore(context.Background(), backup, "json", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Restored) != 2 || result.Restored[0].OriginalName != "A" || result.Restored[1].OriginalName != "C" {
		t.Errorf("unexpected restored entries: %+v", result.Restored)
	}
	if result.Summary.TotalEncounters != 3 || result.Summary.Failed != 0 {
		t.Errorf("unexpected summary: %+v", result.Summary)
	}

	// The unnamed entry is addressed by position and fails validation.
	opts.SelectiveRestore = []string{"encounter-1"}
	result, err = f.orch.Restore(context.Background(), backup, "json", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Restored) != 0 || len(result.Errors) != 1 || result.Errors[0].EncounterName != "encounter-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRestore_PerEntryIsolation(t *testing.T) {
	f := newFixture(t)
	backup := `{"metadata":{"backupDate":"2024-05-01T12:00:00Z","userId":"u1","encounterCount":3,"format":"json"},
		"encounters":[
			{"encounter":{"name":"Good"}},
			{"encounter":{"name":"Bad","participants":[{"name":"Ghost","type":"spirit"}]}},
			{"encounter":{"name":"Also Good"}}
		]}`

	result, err := f.orch.Restore(context.Background(), backup, "json", DefaultRestoreOptions("u1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary.SuccessfullyRestored != 2 || result.Summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", result.Summary)
	}
	if result.Errors[0].EncounterName != "Bad" || result.Errors[0].Error == "" {
		t.Errorf("unexpected failure: %+v", result.Errors[0])
	}
}

func TestRestore_MalformedEntryFailsAlone(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantKey string
	}{
		{"wrong field type", `{"encounter":{"name":"Broken","participants":[{"name":"x","type":"monster","maxHitPoints":"ten"}]}}`, "Broken"},
		{"not an object", `42`, "encounter-1"},
		{"encounter not an object", `{"encounter":"Broken"}`, "encounter-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			backup := `{"metadata":{"backupDate":"2024-05-01T12:00:00Z","userId":"u1","encounterCount":3,"format":"json"},
				"encounters":[{"encounter":{"name":"Good"}},` + tt.entry + `,{"encounter":{"name":"Also Good"}}]}`

			result, err := f.orch.Restore(context.Background(), backup, "json", DefaultRestoreOptions("u1"))
			if err != nil {
				t.Fatalf("expected per-entry failure, got %v", err)
			}
			if result.Summary.TotalEncounters != 3 || result.Summary.SuccessfullyRestored != 2 || result.Summary.Failed != 1 {
				t.Errorf("unexpected summary: %+v", result.Summary)
			}
			if len(result.Errors) != 1 || result.Errors[0].EncounterName != tt.wantKey || result.Errors[0].Error == "" {
				t.Errorf("unexpected failures: %+v", result.Errors)
			}
			if result.Restored[0].OriginalName != "Good" || result.Restored[1].OriginalName != "Also Good" {
				t.Errorf("unexpected restored entries: %+v", result.Restored)
			}
			if len(f.stub.importOpts) != 2 {
				t.Errorf("expected 2 imports, got %d", len(f.stub.importOpts))
			}
		})
	}
}

func TestRestore_ForwardsOptions(t *testing.T) {
	f := newFixture(t)
	backup := `{"metadata":{"backupDate":"2024-05-01T12:00:00Z","userId":"someone","encounterCount":1,"format":"json"},
		"encounters":[{"encounter":{"name":"A"}}]}`

	opts := RestoreOptions{OwnerID: "u1", PreserveIDs: true, CreateMissingCharacters: false, OverwriteExisting: true}
	if _, err := f.orch.Restore(context.Background(), backup, "json", opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.stub.importOpts) != 1 {
		t.Fatalf("expected one import, got %d", len(f.stub.importOpts))
	}
	got := f.stub.importOpts[0]
	if got.OwnerID != "u1" || !got.PreserveIDs || got.CreateMissingCharacters || !got.OverwriteExisting {
		t.Errorf("unexpected import options: %+v", got)
	}
}

func TestRestore_InvalidEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultRestoreOptions("u1")

	cases := []struct {
		name   string
		data   string
		format string
		kind   Kind
	}{
		{"malformed json", `{"metadata":`, "json", KindParse},
		{"missing metadata", `{"encounters":[]}`, "json", KindInvalidBackup},
		{"encounters not array", `{"metadata":{},"encounters":{}}`, "json", KindInvalidBackup},
		{"xml wrong root", `<encounterExport/>`, "xml", KindParse},
		{"xml missing encounters", `<encounterBackup><metadata/></encounterBackup>`, "xml", KindInvalidBackup},
		{"empty", "", "json", KindValidation},
		{"bad format", `{}`, "yaml", KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Restore(ctx, tc.data, tc.format, opts)
			expectKind(t, err, tc.kind)
		})
	}
	if f.stub.importCalls != 0 {
		t.Errorf("expected no imports, got %d", f.stub.importCalls)
	}

	_, err := f.orch.Restore(ctx, `{"metadata":{},"encounters":[]}`, "json", RestoreOptions{})
	expectKind(t, err, KindUnauthenticated)
}
