package transfer

import (
	"context"
	"strings"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

// EncounterSummary is the projection of a stored encounter returned to
// callers in place of the full entity.
type EncounterSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParticipantCount int    `json:"participantCount"`
}

func summarize(enc *encounter.Encounter) *EncounterSummary {
	return &EncounterSummary{
		ID:               enc.ID.String(),
		Name:             enc.Name,
		Description:      enc.Description,
		ParticipantCount: enc.ParticipantCount(),
	}
}

// Import materializes rawData as an encounter owned by opts.OwnerID.
func (o *Orchestrator) Import(ctx context.Context, rawData, format string, opts encounter.ImportOptions) (*EncounterSummary, error) {
	if opts.OwnerID == "" {
		return nil, unauthenticated()
	}
	if strings.TrimSpace(rawData) == "" {
		return nil, validationError("data is required")
	}
	format, err := codec.NormalizeFormat(format)
	if err != nil {
		return nil, validationError(err.Error())
	}

	var enc *encounter.Encounter
	if format == codec.FormatXML {
		enc, err = o.svc.ImportXML(ctx, rawData, opts)
	} else {
		enc, err = o.svc.ImportJSON(ctx, rawData, opts)
	}
	if err != nil {
		te := classify(err, KindImportFailed)
		o.logInternal(te, "import", "", opts.OwnerID)
		return nil, te
	}
	return summarize(enc), nil
}
