package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmvault/dmvault/internal/platform/codec"
)

// BuildExportDocument assembles the export document for one encounter. The
// caller must own the encounter or it must be public.
func (s *Service) BuildExportDocument(ctx context.Context, id, userID, format string, opts ExportOptions) (*codec.ExportDocument, error) {
	enc, err := s.GetEncounterForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	doc := &codec.ExportDocument{
		Metadata: codec.ExportMetadata{
			ExportedAt:    s.now().UTC(),
			ExportedBy:    userID,
			Format:        format,
			FormatVersion: codec.FormatVersion,
			AppVersion:    s.appVersion,
		},
		Encounter: enc.ToDocument(opts),
	}
	if opts.StripPersonalData {
		doc.Metadata.ExportedBy = ""
	}

	if opts.IncludeCharacterSheets {
		for i, p := range enc.Participants {
			if p.CharacterID == nil {
				continue
			}
			ch, err := s.repo.GetCharacter(ctx, *p.CharacterID)
			if errors.Is(err, ErrCharacterNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load character sheet: %w", err)
			}
			if ch.OwnerID != enc.OwnerID {
				continue
			}
			doc.Encounter.Participants[i].CharacterSheet = ch.ToSheet(opts.StripPersonalData)
		}
	}
	return doc, nil
}

func (s *Service) ExportJSON(ctx context.Context, id, userID string, opts ExportOptions) (string, error) {
	doc, err := s.BuildExportDocument(ctx, id, userID, codec.FormatJSON, opts)
	if err != nil {
		return "", err
	}
	data, err := codec.EncodeJSON(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Service) ExportXML(ctx context.Context, id, userID string, opts ExportOptions) (string, error) {
	doc, err := s.BuildExportDocument(ctx, id, userID, codec.FormatXML, opts)
	if err != nil {
		return "", err
	}
	data, err := codec.EncodeXML(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ImportJSON decodes and materializes a JSON export document. Syntax errors
// wrap codec.ErrParse.
func (s *Service) ImportJSON(ctx context.Context, data string, opts ImportOptions) (*Encounter, error) {
	doc, err := codec.DecodeJSON([]byte(data))
	if err != nil {
		return nil, err
	}
	return s.ImportDocument(ctx, doc, opts)
}

// ImportXML decodes and materializes an XML export document.
func (s *Service) ImportXML(ctx context.Context, data string, opts ImportOptions) (*Encounter, error) {
	doc, err := codec.DecodeXML([]byte(data))
	if err != nil {
		return nil, err
	}
	return s.ImportDocument(ctx, doc, opts)
}

// ImportDocument stores a decoded document as a new encounter owned by
// opts.OwnerID. With PreserveIDs the document's ids are kept; an existing
// encounter with the same id is replaced only when OverwriteExisting is set
// and the caller owns it.
func (s *Service) ImportDocument(ctx context.Context, doc *codec.ExportDocument, opts ImportOptions) (*Encounter, error) {
	if opts.OwnerID == "" {
		return nil, reject("owner is required")
	}

	enc := FromDocument(doc.Encounter)
	enc.OwnerID = opts.OwnerID
	applyDefaults(enc)
	if err := validate(enc); err != nil {
		return nil, err
	}

	var existing *Encounter
	if opts.PreserveIDs && doc.Encounter.ID != "" {
		id, err := uuid.Parse(doc.Encounter.ID)
		if err != nil {
			return nil, reject("Invalid encounter data", fmt.Sprintf("invalid encounter id: %q", doc.Encounter.ID))
		}
		existing, err = s.repo.GetByID(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			existing = nil
		case err != nil:
			return nil, err
		case !opts.OverwriteExisting:
			return nil, reject("Encounter already exists", id.String())
		case existing.OwnerID != opts.OwnerID:
			return nil, ErrAccessDenied
		}
		enc.ID = id
	}

	for i, p := range doc.Encounter.Participants {
		part := &enc.Participants[i]
		if opts.PreserveIDs {
			if pid, err := uuid.Parse(p.ID); err == nil {
				part.ID = pid
			}
		}
		if part.ID == uuid.Nil {
			part.ID = uuid.New()
		}
		charID, err := s.resolveCharacter(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		part.CharacterID = charID
	}

	if existing != nil {
		enc.CreatedAt = existing.CreatedAt
		if err := s.repo.Update(ctx, enc); err != nil {
			return nil, err
		}
		return enc, nil
	}
	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, err
	}
	return enc, nil
}

// resolveCharacter links a participant to a stored character owned by the
// importer. A reference that cannot be resolved, including one to another
// user's character, is recreated from the embedded sheet when allowed,
// otherwise the participant is left unlinked.
func (s *Service) resolveCharacter(ctx context.Context, p codec.Participant, opts ImportOptions) (*uuid.UUID, error) {
	if p.CharacterID != "" {
		if id, err := uuid.Parse(p.CharacterID); err == nil {
			ch, err := s.repo.GetCharacter(ctx, id)
			if err == nil && ch.OwnerID == opts.OwnerID {
				return &id, nil
			}
			if err != nil && !errors.Is(err, ErrCharacterNotFound) {
				return nil, err
			}
		}
	}
	if p.CharacterSheet == nil || !opts.CreateMissingCharacters {
		return nil, nil
	}

	ch := CharacterFromSheet(p.CharacterSheet, opts.OwnerID)
	if err := s.CreateCharacter(ctx, ch); err != nil {
		return nil, fmt.Errorf("create character %q: %w", p.CharacterSheet.Name, err)
	}
	return &ch.ID, nil
}
