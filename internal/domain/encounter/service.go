package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo       Repository
	appVersion string
	now        func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetAppVersion sets the version stamped into export metadata.
func (s *Service) SetAppVersion(v string) {
	s.appVersion = v
}

var validStatuses = map[string]bool{
	StatusDraft:     true,
	StatusActive:    true,
	StatusCompleted: true,
	StatusArchived:  true,
}

var validTypes = map[string]bool{
	ParticipantPC:      true,
	ParticipantNPC:     true,
	ParticipantMonster: true,
}

var validDifficulties = map[string]bool{
	"trivial": true,
	"easy":    true,
	"medium":  true,
	"hard":    true,
	"deadly":  true,
}

func validate(enc *Encounter) error {
	var details []string
	if strings.TrimSpace(enc.Name) == "" {
		details = append(details, "name is required")
	}
	if !validStatuses[enc.Status] {
		details = append(details, fmt.Sprintf("invalid status: %q", enc.Status))
	}
	if enc.Difficulty != "" && !validDifficulties[enc.Difficulty] {
		details = append(details, fmt.Sprintf("invalid difficulty: %q", enc.Difficulty))
	}
	if enc.TargetLevel < 0 || enc.TargetLevel > 20 {
		details = append(details, "targetLevel must be between 1 and 20")
	}
	if enc.EstimatedDuration < 0 {
		details = append(details, "estimatedDuration must not be negative")
	}
	for i, p := range enc.Participants {
		if strings.TrimSpace(p.Name) == "" {
			details = append(details, fmt.Sprintf("participants[%d]: name is required", i))
		}
		if !validTypes[p.Type] {
			details = append(details, fmt.Sprintf("participants[%d]: invalid type: %q", i, p.Type))
		}
		if p.MaxHitPoints < 0 || p.ArmorClass < 0 {
			details = append(details, fmt.Sprintf("participants[%d]: hit points and armor class must not be negative", i))
		}
	}
	if len(details) > 0 {
		return reject("Invalid encounter data", details...)
	}
	return nil
}

func applyDefaults(enc *Encounter) {
	if enc.Status == "" {
		enc.Status = StatusDraft
	}
	for i := range enc.Participants {
		if enc.Participants[i].ID == uuid.Nil {
			enc.Participants[i].ID = uuid.New()
		}
		if enc.Participants[i].Conditions == nil {
			enc.Participants[i].Conditions = []string{}
		}
	}
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.OwnerID == "" {
		return reject("owner is required")
	}
	applyDefaults(enc)
	if err := validate(enc); err != nil {
		return err
	}
	if err := s.checkCharacterLinks(ctx, enc); err != nil {
		return err
	}
	return s.repo.Create(ctx, enc)
}

// checkCharacterLinks rejects participants linked to a character that is
// missing or belongs to someone other than the encounter's owner.
func (s *Service) checkCharacterLinks(ctx context.Context, enc *Encounter) error {
	var details []string
	for i, p := range enc.Participants {
		if p.CharacterID == nil {
			continue
		}
		ch, err := s.repo.GetCharacter(ctx, *p.CharacterID)
		if err != nil && !errors.Is(err, ErrCharacterNotFound) {
			return err
		}
		if err != nil || ch.OwnerID != enc.OwnerID {
			details = append(details, fmt.Sprintf("participants[%d]: character not found", i))
		}
	}
	if len(details) > 0 {
		return reject("Invalid encounter data", details...)
	}
	return nil
}

// GetEncounter looks up an encounter by its string id. A malformed id is
// reported as ErrNotFound.
func (s *Service) GetEncounter(ctx context.Context, id string) (*Encounter, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, uid)
}

// GetEncounterForUser is GetEncounter plus the read-access check.
func (s *Service) GetEncounterForUser(ctx context.Context, id, userID string) (*Encounter, error) {
	enc, err := s.GetEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	if !enc.CanRead(userID) {
		return nil, ErrAccessDenied
	}
	return enc, nil
}

func (s *Service) ListEncounters(ctx context.Context, ownerID string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// ListEncountersByOwner returns every encounter owned by ownerID.
func (s *Service) ListEncountersByOwner(ctx context.Context, ownerID string) ([]*Encounter, error) {
	encs, _, err := s.repo.ListByOwner(ctx, ownerID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list encounters for %s: %w", ownerID, err)
	}
	return encs, nil
}

func (s *Service) UpdateEncounter(ctx context.Context, enc *Encounter) error {
	applyDefaults(enc)
	if err := validate(enc); err != nil {
		return err
	}
	if err := s.checkCharacterLinks(ctx, enc); err != nil {
		return err
	}
	return s.repo.Update(ctx, enc)
}

func (s *Service) DeleteEncounter(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, uid)
}

// CloneEncounter copies an encounter under the same owner with a new name.
func (s *Service) CloneEncounter(ctx context.Context, id, newName string) (*Encounter, error) {
	src, err := s.GetEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	clone := copyEncounter(src)
	clone.Name = newName
	clone.Status = StatusDraft
	clone.IsTemplate = false
	if err := s.CreateEncounter(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// CreateTemplate stores a reusable, private copy of an encounter for userID.
// Combat state (damage, conditions, initiative) is reset.
func (s *Service) CreateTemplate(ctx context.Context, id, userID, name string) (*Encounter, error) {
	src, err := s.GetEncounterForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	tpl := copyEncounter(src)
	tpl.OwnerID = userID
	tpl.Name = name
	tpl.Status = StatusDraft
	tpl.IsTemplate = true
	tpl.IsPublic = false
	for i := range tpl.Participants {
		p := &tpl.Participants[i]
		p.CurrentHitPoints = p.MaxHitPoints
		p.TemporaryHitPoints = 0
		p.Initiative = nil
		p.Conditions = []string{}
		if src.OwnerID != userID {
			p.CharacterID = nil
		}
	}
	if err := s.CreateEncounter(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// copyEncounter returns an unsaved deep copy with fresh participant ids.
func copyEncounter(src *Encounter) *Encounter {
	dst := *src
	dst.ID = uuid.Nil
	dst.CreatedAt = time.Time{}
	dst.UpdatedAt = time.Time{}
	dst.Tags = append([]string(nil), src.Tags...)
	dst.Participants = make([]Participant, len(src.Participants))
	for i, p := range src.Participants {
		p.ID = uuid.Nil
		p.Conditions = append([]string(nil), p.Conditions...)
		if p.Initiative != nil {
			v := *p.Initiative
			p.Initiative = &v
		}
		if p.CharacterID != nil {
			v := *p.CharacterID
			p.CharacterID = &v
		}
		dst.Participants[i] = p
	}
	return &dst
}

func (s *Service) CreateCharacter(ctx context.Context, ch *Character) error {
	if ch.OwnerID == "" {
		return reject("owner is required")
	}
	if strings.TrimSpace(ch.Name) == "" {
		return reject("Invalid character data", "name is required")
	}
	if ch.Level < 0 || ch.Level > 20 {
		return reject("Invalid character data", "level must be between 1 and 20")
	}
	return s.repo.CreateCharacter(ctx, ch)
}

func (s *Service) GetCharacter(ctx context.Context, id string) (*Character, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrCharacterNotFound
	}
	return s.repo.GetCharacter(ctx, uid)
}
