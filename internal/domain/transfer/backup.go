package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

// Backup compression modes.
const (
	CompressNone = "none"
	CompressGzip = "gzip"
)

type BackupOptions struct {
	Format                 string
	IncludeCharacterSheets bool
	IncludePrivateNotes    bool
	Compress               string
}

// BuildBackup exports every encounter owned by userID into one document. An
// encounter that fails to export is left out and logged; it never aborts the
// backup. Metadata.EncounterCount is the number of encounters fetched, so it
// can exceed len(Encounters) when items were left out.
func (o *Orchestrator) BuildBackup(ctx context.Context, userID string, opts BackupOptions) (*codec.BackupDocument, error) {
	if userID == "" {
		return nil, unauthenticated()
	}
	format, err := codec.NormalizeFormat(opts.Format)
	if err != nil {
		return nil, validationError(err.Error())
	}

	encs, err := o.svc.ListEncountersByOwner(ctx, userID)
	if err != nil {
		te := classify(err, KindExportFailed)
		o.logInternal(te, "backup", "", userID)
		return nil, te
	}

	exportOpts := encounter.ExportOptions{
		IncludeCharacterSheets: opts.IncludeCharacterSheets,
		IncludePrivateNotes:    opts.IncludePrivateNotes,
		IncludeIDs:             true,
	}
	slots := make([]*codec.ExportDocument, len(encs))
	forEach(ctx, len(encs), o.concurrency, func(ctx context.Context, i int) {
		id := encs[i].ID.String()
		doc, err := o.exportDocument(ctx, id, userID, exportOpts)
		if err != nil {
			o.logger.Warn().Err(err).Str("encounter_id", id).Str("user_id", userID).
				Msg("encounter omitted from backup")
			return
		}
		slots[i] = doc
	})

	entries := make([]codec.ExportDocument, 0, len(slots))
	for _, doc := range slots {
		if doc != nil {
			entries = append(entries, *doc)
		}
	}
	if len(entries) != len(encs) {
		o.logger.Warn().
			Str("user_id", userID).
			Int("fetched", len(encs)).
			Int("exported", len(entries)).
			Msg("backup encounterCount exceeds exported entries")
	}

	return &codec.BackupDocument{
		Metadata: codec.BackupMetadata{
			BackupDate:     o.now().UTC(),
			UserID:         userID,
			EncounterCount: len(encs),
			Format:         format,
		},
		Encounters: entries,
	}, nil
}

// exportDocument runs a single export and parses it back into a document so
// it can be embedded in a backup envelope of either format.
func (o *Orchestrator) exportDocument(ctx context.Context, id, userID string, opts encounter.ExportOptions) (*codec.ExportDocument, error) {
	payload, err := o.Export(ctx, id, userID, codec.FormatJSON, opts)
	if err != nil {
		return nil, err
	}
	return codec.DecodeJSON(payload.Data)
}

// CreateBackup builds and serializes a backup for download.
func (o *Orchestrator) CreateBackup(ctx context.Context, userID string, opts BackupOptions) (*Payload, error) {
	compress := strings.ToLower(strings.TrimSpace(opts.Compress))
	if compress != "" && compress != CompressNone && compress != CompressGzip {
		return nil, validationError(fmt.Sprintf("unsupported compression: %q", opts.Compress))
	}

	doc, err := o.BuildBackup(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	format := doc.Metadata.Format

	data, err := codec.EncodeBackup(doc, format)
	if err != nil {
		te := classify(err, KindExportFailed)
		o.logInternal(te, "backup", "", userID)
		return nil, te
	}

	p := &Payload{
		Data:        data,
		ContentType: codec.ContentType(format),
		Filename:    fmt.Sprintf("encounters-backup-%d.%s", doc.Metadata.BackupDate.UnixMilli(), format),
	}
	if compress == CompressGzip {
		if p.Data, err = codec.Gzip(data); err != nil {
			te := classify(err, KindExportFailed)
			o.logInternal(te, "backup", "", userID)
			return nil, te
		}
		p.ContentType = "application/gzip"
		p.Filename += ".gz"
	}
	return p, nil
}

type RestoreOptions struct {
	OwnerID                 string
	PreserveIDs             bool
	CreateMissingCharacters bool
	OverwriteExisting       bool
	// SelectiveRestore, when non-nil, lists the entry keys to restore. An
	// entry's key is its name, or encounter-<index> (0-based) when unnamed.
	SelectiveRestore []string
}

// DefaultRestoreOptions mirrors encounter.DefaultImportOptions.
func DefaultRestoreOptions(ownerID string) RestoreOptions {
	d := encounter.DefaultImportOptions(ownerID)
	return RestoreOptions{
		OwnerID:                 d.OwnerID,
		PreserveIDs:             d.PreserveIDs,
		CreateMissingCharacters: d.CreateMissingCharacters,
		OverwriteExisting:       d.OverwriteExisting,
	}
}

type RestoredEncounter struct {
	OriginalName     string `json:"originalName"`
	ImportedID       string `json:"importedId"`
	ImportedName     string `json:"importedName"`
	ParticipantCount int    `json:"participantCount"`
}

type RestoreFailure struct {
	EncounterName string `json:"encounterName"`
	Error         string `json:"error"`
}

type RestoreSummary struct {
	TotalEncounters      int       `json:"totalEncounters"`
	SuccessfullyRestored int       `json:"successfullyRestored"`
	Failed               int       `json:"failed"`
	BackupDate           time.Time `json:"backupDate"`
}

// RestoreResult reports every restored and failed entry in backup order.
// Errors is nil when nothing failed.
type RestoreResult struct {
	Restored []RestoredEncounter `json:"restored"`
	Errors   []RestoreFailure    `json:"errors,omitempty"`
	Summary  RestoreSummary      `json:"summary"`
}

type restoreSlot struct {
	skipped  bool
	restored *RestoredEncounter
	failure  *RestoreFailure
}

// Restore imports the entries of a backup. An envelope that fails to parse or
// lacks metadata/encounters aborts before any entry is imported; after that,
// each entry succeeds or fails on its own.
func (o *Orchestrator) Restore(ctx context.Context, raw, format string, opts RestoreOptions) (*RestoreResult, error) {
	if opts.OwnerID == "" {
		return nil, unauthenticated()
	}
	if strings.TrimSpace(raw) == "" {
		return nil, validationError("backupData is required")
	}
	format, err := codec.NormalizeFormat(format)
	if err != nil {
		return nil, validationError(err.Error())
	}

	env, err := codec.OpenBackup([]byte(raw), format)
	if err != nil {
		return nil, classify(err, KindInvalidBackup)
	}

	var selected map[string]bool
	if opts.SelectiveRestore != nil {
		selected = make(map[string]bool, len(opts.SelectiveRestore))
		for _, key := range opts.SelectiveRestore {
			selected[key] = true
		}
	}

	importOpts := encounter.ImportOptions{
		OwnerID:                 opts.OwnerID,
		PreserveIDs:             opts.PreserveIDs,
		CreateMissingCharacters: opts.CreateMissingCharacters,
		OverwriteExisting:       opts.OverwriteExisting,
	}

	slots := make([]restoreSlot, len(env.Entries))
	forEach(ctx, len(env.Entries), o.concurrency, func(ctx context.Context, i int) {
		key := entryKey(env.Entries[i].Name(), i)
		if selected != nil && !selected[key] {
			slots[i].skipped = true
			return
		}
		fail := func(err error) {
			slots[i].failure = &RestoreFailure{EncounterName: key, Error: publicMessage(classify(err, KindImportFailed))}
		}
		entry, err := env.Entries[i].Decode()
		if err != nil {
			fail(err)
			return
		}
		summary, err := o.restoreEntry(ctx, entry, format, importOpts)
		if err != nil {
			fail(err)
			return
		}
		slots[i].restored = &RestoredEncounter{
			OriginalName:     entry.Encounter.Name,
			ImportedID:       summary.ID,
			ImportedName:     summary.Name,
			ParticipantCount: summary.ParticipantCount,
		}
	})

	result := &RestoreResult{
		Restored: []RestoredEncounter{},
		Summary: RestoreSummary{
			TotalEncounters: len(env.Entries),
			BackupDate:      env.Metadata.BackupDate,
		},
	}
	for _, s := range slots {
		switch {
		case s.restored != nil:
			result.Restored = append(result.Restored, *s.restored)
		case s.failure != nil:
			result.Errors = append(result.Errors, *s.failure)
		}
	}
	result.Summary.SuccessfullyRestored = len(result.Restored)
	result.Summary.Failed = len(result.Errors)
	return result, nil
}

// restoreEntry re-encodes one backup entry in the backup's own format and
// runs it through Import.
func (o *Orchestrator) restoreEntry(ctx context.Context, entry *codec.ExportDocument, format string, opts encounter.ImportOptions) (*EncounterSummary, error) {
	data, err := codec.Encode(entry, format)
	if err != nil {
		return nil, err
	}
	return o.Import(ctx, string(data), format, opts)
}

func entryKey(name string, index int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("encounter-%d", index)
}
