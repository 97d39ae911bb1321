package encounter

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmvault/dmvault/internal/platform/codec"
)

// Participant types.
const (
	ParticipantPC      = "pc"
	ParticipantNPC     = "npc"
	ParticipantMonster = "monster"
)

// Encounter statuses.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Encounter maps to the encounters table.
type Encounter struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	OwnerID           string        `db:"owner_id" json:"ownerId"`
	Name              string        `db:"name" json:"name"`
	Description       string        `db:"description" json:"description"`
	Tags              []string      `db:"tags" json:"tags"`
	Difficulty        string        `db:"difficulty" json:"difficulty,omitempty"`
	EstimatedDuration int           `db:"estimated_duration" json:"estimatedDuration,omitempty"`
	TargetLevel       int           `db:"target_level" json:"targetLevel,omitempty"`
	Status            string        `db:"status" json:"status"`
	IsPublic          bool          `db:"is_public" json:"isPublic"`
	IsTemplate        bool          `db:"is_template" json:"isTemplate"`
	Settings          Settings      `db:"settings" json:"settings"`
	Participants      []Participant `db:"participants" json:"participants"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

// Settings is stored as a JSON column.
type Settings struct {
	AllowPlayerVisibility bool `json:"allowPlayerVisibility"`
	AutoRollInitiative    bool `json:"autoRollInitiative"`
	TrackResources        bool `json:"trackResources"`
	EnableLairActions     bool `json:"enableLairActions"`
	LairActionInitiative  int  `json:"lairActionInitiative,omitempty"`
	EnableGrid            bool `json:"enableGrid"`
	GridSize              int  `json:"gridSize,omitempty"`
}

// Participant is stored inline with its encounter.
type Participant struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	MaxHitPoints       int        `json:"maxHitPoints"`
	CurrentHitPoints   int        `json:"currentHitPoints"`
	TemporaryHitPoints int        `json:"temporaryHitPoints"`
	ArmorClass         int        `json:"armorClass"`
	Initiative         *int       `json:"initiative,omitempty"`
	IsPlayer           bool       `json:"isPlayer"`
	IsVisible          bool       `json:"isVisible"`
	Notes              string     `json:"notes,omitempty"`
	Conditions         []string   `json:"conditions"`
	CharacterID        *uuid.UUID `json:"characterId,omitempty"`
}

// Character maps to the characters table.
type Character struct {
	ID           uuid.UUID `db:"id" json:"id"`
	OwnerID      string    `db:"owner_id" json:"ownerId"`
	Name         string    `db:"name" json:"name"`
	Class        string    `db:"class" json:"class,omitempty"`
	Race         string    `db:"race" json:"race,omitempty"`
	Level        int       `db:"level" json:"level"`
	MaxHitPoints int       `db:"max_hit_points" json:"maxHitPoints"`
	ArmorClass   int       `db:"armor_class" json:"armorClass"`
	PlayerName   string    `db:"player_name" json:"playerName,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ParticipantCount is used by import summaries.
func (e *Encounter) ParticipantCount() int { return len(e.Participants) }

// CanRead reports whether userID may read or export the encounter.
func (e *Encounter) CanRead(userID string) bool {
	return e.OwnerID == userID || e.IsPublic
}

// ToDocument projects the encounter onto the wire-level record. Character
// sheets are attached separately since they need a repository lookup.
func (e *Encounter) ToDocument(opts ExportOptions) codec.Encounter {
	doc := codec.Encounter{
		Name:              e.Name,
		Description:       e.Description,
		Tags:              append(make([]string, 0, len(e.Tags)), e.Tags...),
		Difficulty:        e.Difficulty,
		EstimatedDuration: e.EstimatedDuration,
		TargetLevel:       e.TargetLevel,
		Status:            e.Status,
		IsPublic:          e.IsPublic,
		Settings:          codec.Settings(e.Settings),
		Participants:      make([]codec.Participant, 0, len(e.Participants)),
	}
	if opts.IncludeIDs {
		doc.ID = e.ID.String()
	}

	for i, p := range e.Participants {
		rec := codec.Participant{
			ID:                 "temp-" + strconv.Itoa(i),
			Name:               p.Name,
			Type:               p.Type,
			MaxHitPoints:       p.MaxHitPoints,
			CurrentHitPoints:   p.CurrentHitPoints,
			TemporaryHitPoints: p.TemporaryHitPoints,
			ArmorClass:         p.ArmorClass,
			Initiative:         p.Initiative,
			IsPlayer:           p.IsPlayer,
			IsVisible:          p.IsVisible,
			Conditions:         append(make([]string, 0, len(p.Conditions)), p.Conditions...),
		}
		if opts.IncludeIDs {
			rec.ID = p.ID.String()
			if p.CharacterID != nil {
				rec.CharacterID = p.CharacterID.String()
			}
		}
		if opts.IncludePrivateNotes {
			rec.Notes = p.Notes
		}
		doc.Participants = append(doc.Participants, rec)
	}
	return doc
}

// FromDocument builds an unsaved encounter from a decoded wire record.
// Participant and character ids are left for the importer to resolve.
func FromDocument(doc codec.Encounter) *Encounter {
	enc := &Encounter{
		Name:              doc.Name,
		Description:       doc.Description,
		Tags:              append([]string(nil), doc.Tags...),
		Difficulty:        doc.Difficulty,
		EstimatedDuration: doc.EstimatedDuration,
		TargetLevel:       doc.TargetLevel,
		Status:            doc.Status,
		IsPublic:          doc.IsPublic,
		Settings:          Settings(doc.Settings),
		Participants:      make([]Participant, 0, len(doc.Participants)),
	}
	for _, p := range doc.Participants {
		enc.Participants = append(enc.Participants, Participant{
			Name:               p.Name,
			Type:               p.Type,
			MaxHitPoints:       p.MaxHitPoints,
			CurrentHitPoints:   p.CurrentHitPoints,
			TemporaryHitPoints: p.TemporaryHitPoints,
			ArmorClass:         p.ArmorClass,
			Initiative:         p.Initiative,
			IsPlayer:           p.IsPlayer,
			IsVisible:          p.IsVisible,
			Notes:              p.Notes,
			Conditions:         append(make([]string, 0, len(p.Conditions)), p.Conditions...),
		})
	}
	return enc
}

// ToSheet converts a stored character into its embedded export form.
func (c *Character) ToSheet(stripPersonalData bool) *codec.CharacterSheet {
	sheet := &codec.CharacterSheet{
		Name:         c.Name,
		Class:        c.Class,
		Race:         c.Race,
		Level:        c.Level,
		MaxHitPoints: c.MaxHitPoints,
		ArmorClass:   c.ArmorClass,
		PlayerName:   c.PlayerName,
	}
	if stripPersonalData {
		sheet.PlayerName = ""
	}
	return sheet
}

// CharacterFromSheet builds an unsaved character from an embedded sheet.
func CharacterFromSheet(sheet *codec.CharacterSheet, ownerID string) *Character {
	return &Character{
		OwnerID:      ownerID,
		Name:         sheet.Name,
		Class:        sheet.Class,
		Race:         sheet.Race,
		Level:        sheet.Level,
		MaxHitPoints: sheet.MaxHitPoints,
		ArmorClass:   sheet.ArmorClass,
		PlayerName:   sheet.PlayerName,
	}
}
