package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

// Payload is a downloadable document.
type Payload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Export serializes one encounter the caller may read.
func (o *Orchestrator) Export(ctx context.Context, encounterID, userID, format string, opts encounter.ExportOptions) (*Payload, error) {
	if userID == "" {
		return nil, unauthenticated()
	}
	if strings.TrimSpace(encounterID) == "" {
		return nil, validationError("encounter id is required")
	}
	format, err := codec.NormalizeFormat(format)
	if err != nil {
		return nil, validationError(err.Error())
	}

	data, err := o.exportString(ctx, encounterID, userID, format, opts)
	if err != nil {
		te := classify(err, KindExportFailed)
		o.logInternal(te, "export", encounterID, userID)
		return nil, te
	}

	return &Payload{
		Data:        []byte(data),
		ContentType: codec.ContentType(format),
		Filename:    fmt.Sprintf("encounter-%s-%d.%s", encounterID, o.now().UnixMilli(), format),
	}, nil
}

func (o *Orchestrator) exportString(ctx context.Context, id, userID, format string, opts encounter.ExportOptions) (string, error) {
	if format == codec.FormatXML {
		return o.svc.ExportXML(ctx, id, userID, opts)
	}
	return o.svc.ExportJSON(ctx, id, userID, opts)
}
