package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

const MaxBatchSize = 50

// Operation is one of ExportOp, TemplateOp, DeleteOp, ArchiveOp, PublishOp or
// DuplicateOp. The set is closed.
type Operation interface {
	Name() string
	operation()
}

type ExportOp struct {
	Format  string
	Options encounter.ExportOptions
}

type TemplateOp struct {
	Prefix string
}

type DeleteOp struct{}

type ArchiveOp struct {
	Reason string
}

type PublishOp struct {
	MakePublic bool
}

type DuplicateOp struct {
	NamePrefix string
}

func (ExportOp) Name() string    { return "export" }
func (TemplateOp) Name() string  { return "template" }
func (DeleteOp) Name() string    { return "delete" }
func (ArchiveOp) Name() string   { return "archive" }
func (PublishOp) Name() string   { return "publish" }
func (DuplicateOp) Name() string { return "duplicate" }

func (ExportOp) operation()    {}
func (TemplateOp) operation()  {}
func (DeleteOp) operation()    {}
func (ArchiveOp) operation()   {}
func (PublishOp) operation()   {}
func (DuplicateOp) operation() {}

const (
	defaultTemplatePrefix  = "Template"
	defaultDuplicatePrefix = "Copy of"
)

// BatchOptions is the union of per-operation options accepted on the wire.
// Fields that do not apply to the chosen operation are ignored.
type BatchOptions struct {
	Format                 string `json:"format"`
	IncludeCharacterSheets bool   `json:"includeCharacterSheets"`
	IncludePrivateNotes    bool   `json:"includePrivateNotes"`
	StripPersonalData      bool   `json:"stripPersonalData"`
	TemplatePrefix         string `json:"templatePrefix"`
	Reason                 string `json:"reason"`
	MakePublic             *bool  `json:"makePublic"`
	NamePrefix             string `json:"namePrefix"`
}

// ParseOperation builds the Operation named by name.
func ParseOperation(name string, opts BatchOptions) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "export":
		format, err := codec.NormalizeFormat(opts.Format)
		if err != nil {
			return nil, validationError(err.Error())
		}
		return ExportOp{Format: format, Options: encounter.ExportOptions{
			IncludeCharacterSheets: opts.IncludeCharacterSheets,
			IncludePrivateNotes:    opts.IncludePrivateNotes,
			StripPersonalData:      opts.StripPersonalData,
		}}, nil
	case "template":
		prefix := strings.TrimSpace(opts.TemplatePrefix)
		if prefix == "" {
			prefix = defaultTemplatePrefix
		}
		return TemplateOp{Prefix: prefix}, nil
	case "delete":
		return DeleteOp{}, nil
	case "archive":
		return ArchiveOp{Reason: strings.TrimSpace(opts.Reason)}, nil
	case "publish":
		makePublic := true
		if opts.MakePublic != nil {
			makePublic = *opts.MakePublic
		}
		return PublishOp{MakePublic: makePublic}, nil
	case "duplicate":
		prefix := strings.TrimSpace(opts.NamePrefix)
		if prefix == "" {
			prefix = defaultDuplicatePrefix
		}
		return DuplicateOp{NamePrefix: prefix}, nil
	default:
		return nil, validationError(fmt.Sprintf("unsupported operation: %q", name))
	}
}

// Batch item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type BatchResult struct {
	EncounterID string      `json:"encounterId"`
	Status      string      `json:"status"`
	Data        interface{} `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type BatchSummary struct {
	TotalProcessed int `json:"totalProcessed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
}

// BatchResponse lists successful items in Results and failed items in
// Errors, each in request order. Errors is nil when nothing failed.
type BatchResponse struct {
	Success   bool          `json:"success"`
	Operation string        `json:"operation"`
	Results   []BatchResult `json:"results"`
	Errors    []BatchResult `json:"errors,omitempty"`
	Summary   BatchSummary  `json:"summary"`
}

// ExportedItem is the per-item data of a batch export.
type ExportedItem struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type StatusChange struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type VisibilityChange struct {
	ID       string `json:"id"`
	IsPublic bool   `json:"isPublic"`
}

// RunBatch applies op to every id on behalf of userID. The id list is
// checked before anything runs; after that every item succeeds or fails on
// its own.
func (o *Orchestrator) RunBatch(ctx context.Context, op Operation, ids []string, userID string) (*BatchResponse, error) {
	if userID == "" {
		return nil, unauthenticated()
	}
	if op == nil {
		return nil, validationError("operation is required")
	}
	if len(ids) == 0 || len(ids) > MaxBatchSize {
		return nil, validationError(fmt.Sprintf("encounterIds must contain between 1 and %d ids, got %d", MaxBatchSize, len(ids)))
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, validationError(fmt.Sprintf("encounterIds[%d] is empty", i))
		}
	}

	slots := make([]BatchResult, len(ids))
	forEach(ctx, len(ids), o.concurrency, func(ctx context.Context, i int) {
		slots[i] = o.runItem(ctx, op, ids[i], userID)
	})

	resp := &BatchResponse{
		Success:   true,
		Operation: op.Name(),
		Results:   []BatchResult{},
		Summary:   BatchSummary{TotalProcessed: len(ids)},
	}
	for _, r := range slots {
		if r.Status == StatusSuccess {
			resp.Results = append(resp.Results, r)
		} else {
			resp.Errors = append(resp.Errors, r)
		}
	}
	resp.Summary.Successful = len(resp.Results)
	resp.Summary.Failed = len(resp.Errors)
	return resp, nil
}

func (o *Orchestrator) runItem(ctx context.Context, op Operation, id, userID string) BatchResult {
	data, err := o.apply(ctx, op, id, userID)
	if err != nil {
		te := classify(err, KindExportFailed)
		o.logInternal(te, "batch:"+op.Name(), id, userID)
		return BatchResult{EncounterID: id, Status: StatusError, Error: publicMessage(te)}
	}
	return BatchResult{EncounterID: id, Status: StatusSuccess, Data: data}
}

func (o *Orchestrator) apply(ctx context.Context, op Operation, id, userID string) (interface{}, error) {
	switch op := op.(type) {
	case ExportOp:
		opts := op.Options
		opts.IncludeIDs = true
		p, err := o.Export(ctx, id, userID, op.Format, opts)
		if err != nil {
			return nil, err
		}
		return &ExportedItem{Filename: p.Filename, ContentType: p.ContentType, Data: string(p.Data)}, nil

	case TemplateOp:
		src, err := o.svc.GetEncounter(ctx, id)
		if err != nil {
			return nil, err
		}
		tpl, err := o.svc.CreateTemplate(ctx, id, userID, fmt.Sprintf("%s - %s", op.Prefix, src.Name))
		if err != nil {
			return nil, err
		}
		return summarize(tpl), nil

	case DeleteOp:
		if _, err := o.owned(ctx, id, userID); err != nil {
			return nil, err
		}
		if err := o.svc.DeleteEncounter(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil

	case ArchiveOp:
		enc, err := o.owned(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		enc.Status = encounter.StatusArchived
		if op.Reason != "" {
			if enc.Description != "" {
				enc.Description += "\n\n"
			}
			enc.Description += "Archived: " + op.Reason
		}
		if err := o.svc.UpdateEncounter(ctx, enc); err != nil {
			return nil, err
		}
		return &StatusChange{ID: enc.ID.String(), Status: enc.Status}, nil

	case PublishOp:
		enc, err := o.owned(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		enc.IsPublic = op.MakePublic
		if err := o.svc.UpdateEncounter(ctx, enc); err != nil {
			return nil, err
		}
		return &VisibilityChange{ID: enc.ID.String(), IsPublic: enc.IsPublic}, nil

	case DuplicateOp:
		src, err := o.owned(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		clone, err := o.svc.CloneEncounter(ctx, id, op.NamePrefix+" "+src.Name)
		if err != nil {
			return nil, err
		}
		return summarize(clone), nil

	default:
		return nil, fmt.Errorf("unhandled batch operation %T", op)
	}
}

// owned fetches an encounter and checks that userID owns it.
func (o *Orchestrator) owned(ctx context.Context, id, userID string) (*encounter.Encounter, error) {
	enc, err := o.svc.GetEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.OwnerID != userID {
		return nil, permissionError()
	}
	return enc, nil
}
