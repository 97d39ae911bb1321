package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("template", BatchOptions{})
	if err != nil || op.(TemplateOp).Prefix != "Template" {
		t.Errorf("expected default template prefix, got %+v, %v", op, err)
	}
	op, _ = ParseOperation("duplicate", BatchOptions{})
	if op.(DuplicateOp).NamePrefix != "Copy of" {
		t.Errorf("expected default duplicate prefix, got %+v", op)
	}
	op, _ = ParseOperation("publish", BatchOptions{})
	if !op.(PublishOp).MakePublic {
		t.Error("expected publish to default to public")
	}
	no := false
	op, _ = ParseOperation("publish", BatchOptions{MakePublic: &no})
	if op.(PublishOp).MakePublic {
		t.Error("expected makePublic=false to be honored")
	}
	op, _ = ParseOperation("Export", BatchOptions{Format: "XML", IncludePrivateNotes: true})
	if exp := op.(ExportOp); exp.Format != "xml" || !exp.Options.IncludePrivateNotes {
		t.Errorf("unexpected export op: %+v", exp)
	}

	_, err = ParseOperation("explode", BatchOptions{})
	expectKind(t, err, KindValidation)
	_, err = ParseOperation("export", BatchOptions{Format: "yaml"})
	expectKind(t, err, KindValidation)
}

func TestRunBatch_SizeBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.RunBatch(ctx, DeleteOp{}, nil, "u1")
	expectKind(t, err, KindValidation)

	ids := make([]string, MaxBatchSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("missing-%d", i)
	}
	_, err = f.orch.RunBatch(ctx, DeleteOp{}, ids, "u1")
	expectKind(t, err, KindValidation)

	resp, err := f.orch.RunBatch(ctx, DeleteOp{}, ids[:MaxBatchSize], "u1")
	if err != nil {
		t.Fatalf("expected %d ids to be accepted, got %v", MaxBatchSize, err)
	}
	if resp.Summary.TotalProcessed != MaxBatchSize || resp.Summary.Failed != MaxBatchSize {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}

	_, err = f.orch.RunBatch(ctx, DeleteOp{}, []string{"a", " "}, "u1")
	expectKind(t, err, KindValidation)

	_, err = f.orch.RunBatch(ctx, DeleteOp{}, []string{"a"}, "")
	expectKind(t, err, KindUnauthenticated)
}

func TestRunBatch_Isolation(t *testing.T) {
	f := newFixture(t)
	a := f.seedNamed(t, "u1", "A")
	b := f.seedNamed(t, "u1", "B")
	c := f.seedNamed(t, "u1", "C")
	f.stub.exportErr[b.ID.String()] = errors.New("socket closed")

	op, _ := ParseOperation("export", BatchOptions{})
	ids := []string{a.ID.String(), b.ID.String(), c.ID.String()}
	resp, err := f.orch.RunBatch(context.Background(), op, ids, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Operation != "export" {
		t.Errorf("unexpected response header: %+v", resp)
	}
	if resp.Summary != (BatchSummary{TotalProcessed: 3, Successful: 2, Failed: 1}) {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}
	if resp.Results[0].EncounterID != ids[0] || resp.Results[1].EncounterID != ids[2] {
		t.Errorf("expected results in input order, got %+v", resp.Results)
	}
	if resp.Errors[0].EncounterID != ids[1] || resp.Errors[0].Status != StatusError {
		t.Errorf("unexpected error entry: %+v", resp.Errors[0])
	}
	if resp.Errors[0].Error != msgInternal {
		t.Errorf("expected internal cause hidden, got %q", resp.Errors[0].Error)
	}
}

func TestRunBatch_ExportForcesIDs(t *testing.T) {
	f := newFixture(t)
	enc := f.seed(t, goblinAmbush("u1"))

	resp, err := f.orch.RunBatch(context.Background(), ExportOp{Format: "json"}, []string{enc.ID.String()}, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := resp.Results[0].Data.(*ExportedItem)
	if item.ContentType != "application/json" || !strings.HasPrefix(item.Filename, "encounter-"+enc.ID.String()) {
		t.Errorf("unexpected item: %+v", item)
	}
	doc, err := codec.DecodeJSON([]byte(item.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Encounter.ID != enc.ID.String() {
		t.Errorf("expected batch export to include ids, got %q", doc.Encounter.ID)
	}
	if doc.Encounter.Participants[0].ID != enc.Participants[0].ID.String() {
		t.Errorf("expected participant ids, got %q", doc.Encounter.Participants[0].ID)
	}
}

func TestRunBatch_Ownership(t *testing.T) {
	ops := []Operation{DeleteOp{}, ArchiveOp{Reason: "done"}, PublishOp{MakePublic: true}, DuplicateOp{NamePrefix: "Copy of"}}
	for _, op := range ops {
		t.Run(op.Name(), func(t *testing.T) {
			f := newFixture(t)
			enc := f.seed(t, goblinAmbush("u1"))

			resp, err := f.orch.RunBatch(context.Background(), op, []string{enc.ID.String()}, "u2")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Summary.Failed != 1 || resp.Errors[0].Error != msgPermission {
				t.Fatalf("expected permission failure, got %+v", resp)
			}

			got, err := f.svc.GetEncounter(context.Background(), enc.ID.String())
			if err != nil {
				t.Fatalf("expected encounter untouched, got %v", err)
			}
			if got.Status != encounter.StatusDraft || got.IsPublic || got.Description != enc.Description {
				t.Errorf("encounter was modified: %+v", got)
			}
			others, _ := f.svc.ListEncountersByOwner(context.Background(), "u1")
			others2, _ := f.svc.ListEncountersByOwner(context.Background(), "u2")
			if len(others) != 1 || len(others2) != 0 {
				t.Errorf("expected no copies, got %d/%d", len(others), len(others2))
			}
		})
	}
}

func TestRunBatch_Archive(t *testing.T) {
	f := newFixture(t)
	withDesc := f.seed(t, goblinAmbush("u1"))
	noDesc := goblinAmbush("u1")
	noDesc.Description = ""
	f.seed(t, noDesc)

	resp, err := f.orch.RunBatch(context.Background(), ArchiveOp{Reason: "campaign over"},
		[]string{withDesc.ID.String(), noDesc.ID.String()}, "u1")
	if err != nil || resp.Summary.Successful != 2 {
		t.Fatalf("unexpected result: %+v, %v", resp, err)
	}
	if sc := resp.Results[0].Data.(*StatusChange); sc.Status != encounter.StatusArchived {
		t.Errorf("unexpected data: %+v", sc)
	}

	got, _ := f.svc.GetEncounter(context.Background(), withDesc.ID.String())
	if got.Status != encounter.StatusArchived || got.Description != "Goblins on the road\n\nArchived: campaign over" {
		t.Errorf("unexpected archived encounter: %q / %q", got.Status, got.Description)
	}
	got, _ = f.svc.GetEncounter(context.Background(), noDesc.ID.String())
	if got.Description != "Archived: campaign over" {
		t.Errorf("unexpected description %q", got.Description)
	}
}

func TestRunBatch_PublishAndDelete(t *testing.T) {
	f := newFixture(t)
	enc := f.seed(t, goblinAmbush("u1"))
	id := enc.ID.String()
	ctx := context.Background()

	resp, _ := f.orch.RunBatch(ctx, PublishOp{MakePublic: true}, []string{id}, "u1")
	if vc := resp.Results[0].Data.(*VisibilityChange); !vc.IsPublic {
		t.Errorf("unexpected data: %+v", vc)
	}
	got, _ := f.svc.GetEncounter(ctx, id)
	if !got.IsPublic {
		t.Error("expected encounter published")
	}

	resp, _ = f.orch.RunBatch(ctx, DeleteOp{}, []string{id, id}, "u1")
	if resp.Summary.Successful != 1 || resp.Summary.Failed != 1 {
		t.Errorf("expected second delete of the same id to fail, got %+v", resp.Summary)
	}
	if resp.Errors[0].Error != "Encounter not found" {
		t.Errorf("unexpected error %q", resp.Errors[0].Error)
	}
	if _, err := f.svc.GetEncounter(ctx, id); !errors.Is(err, encounter.ErrNotFound) {
		t.Errorf("expected encounter deleted, got %v", err)
	}
}

func TestRunBatch_TemplateAndDuplicate(t *testing.T) {
	f := newFixture(t)
	enc := goblinAmbush("u1")
	enc.IsPublic = true
	f.seed(t, enc)
	ctx := context.Background()

	resp, err := f.orch.RunBatch(ctx, TemplateOp{Prefix: "Template"}, []string{enc.ID.String()}, "u2")
	if err != nil || resp.Summary.Successful != 1 {
		t.Fatalf("expected template from a public encounter, got %+v, %v", resp, err)
	}
	tpl := resp.Results[0].Data.(*EncounterSummary)
	if tpl.Name != "Template - Goblin Ambush" || tpl.ParticipantCount != 2 {
		t.Errorf("unexpected template: %+v", tpl)
	}
	stored, _ := f.svc.GetEncounter(ctx, tpl.ID)
	if stored.OwnerID != "u2" || !stored.IsTemplate {
		t.Errorf("unexpected stored template: %+v", stored)
	}

	resp, _ = f.orch.RunBatch(ctx, DuplicateOp{NamePrefix: "Copy of"}, []string{enc.ID.String()}, "u1")
	dup := resp.Results[0].Data.(*EncounterSummary)
	if dup.Name != "Copy of Goblin Ambush" || dup.ID == enc.ID.String() {
		t.Errorf("unexpected duplicate: %+v", dup)
	}
}

func TestRunBatch_ConcurrentPreservesOrder(t *testing.T) {
	f := newFixture(t)
	f.orch.SetConcurrency(8)

	var ids []string
	for i := 0; i < 20; i++ {
		enc := f.seedNamed(t, "u1", fmt.Sprintf("Encounter %02d", i))
		ids = append(ids, enc.ID.String())
		if i%5 == 0 {
			f.stub.getErr[enc.ID.String()] = errors.New("flaky")
		}
	}

	resp, err := f.orch.RunBatch(context.Background(), DuplicateOp{NamePrefix: "Copy of"}, ids, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Summary.Successful != 16 || resp.Summary.Failed != 4 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	var want []string
	for i, id := range ids {
		if i%5 != 0 {
			want = append(want, id)
		}
	}
	for i, r := range resp.Results {
		if r.EncounterID != want[i] {
			t.Fatalf("result %d out of order: got %s, want %s", i, r.EncounterID, want[i])
		}
	}
	for i, r := range resp.Errors {
		if r.EncounterID != ids[i*5] {
			t.Errorf("error %d out of order: got %s", i, r.EncounterID)
		}
	}
}
