// Package codec converts encounter export and backup documents to and from
// their JSON and XML wire formats.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported wire formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// FormatVersion is written into every export document.
const FormatVersion = "1.0"

var (
	ErrParse                  = errors.New("parse error")
	ErrInvalidBackupStructure = errors.New("invalid backup structure")
	ErrUnsupportedFormat      = errors.New("unsupported format")
)

// ExportMetadata describes when, by whom and how an encounter was exported.
type ExportMetadata struct {
	ExportedAt    time.Time `json:"exportedAt"`
	ExportedBy    string    `json:"exportedBy,omitempty"`
	Format        string    `json:"format"`
	FormatVersion string    `json:"formatVersion"`
	AppVersion    string    `json:"appVersion,omitempty"`
}

// Settings holds the per-encounter combat settings.
type Settings struct {
	AllowPlayerVisibility bool `json:"allowPlayerVisibility"`
	AutoRollInitiative    bool `json:"autoRollInitiative"`
	TrackResources        bool `json:"trackResources"`
	EnableLairActions     bool `json:"enableLairActions"`
	LairActionInitiative  int  `json:"lairActionInitiative,omitempty"`
	EnableGrid            bool `json:"enableGrid"`
	GridSize              int  `json:"gridSize,omitempty"`
}

// CharacterSheet is the embedded copy of a player character's sheet.
type CharacterSheet struct {
	Name         string `json:"name"`
	Class        string `json:"class,omitempty"`
	Race         string `json:"race,omitempty"`
	Level        int    `json:"level"`
	MaxHitPoints int    `json:"maxHitPoints"`
	ArmorClass   int    `json:"armorClass"`
	PlayerName   string `json:"playerName,omitempty"`
}

// Participant is one combatant within an exported encounter.
type Participant struct {
	ID                 string          `json:"id,omitempty"`
	Name               string          `json:"name"`
	Type               string          `json:"type"`
	MaxHitPoints       int             `json:"maxHitPoints"`
	CurrentHitPoints   int             `json:"currentHitPoints"`
	TemporaryHitPoints int             `json:"temporaryHitPoints"`
	ArmorClass         int             `json:"armorClass"`
	Initiative         *int            `json:"initiative,omitempty"`
	IsPlayer           bool            `json:"isPlayer"`
	IsVisible          bool            `json:"isVisible"`
	Notes              string          `json:"notes,omitempty"`
	Conditions         []string        `json:"conditions"`
	CharacterID        string          `json:"characterId,omitempty"`
	CharacterSheet     *CharacterSheet `json:"characterSheet,omitempty"`
}

// Encounter is the normalized, storage-independent encounter record.
type Encounter struct {
	ID                string        `json:"id,omitempty"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Tags              []string      `json:"tags"`
	Difficulty        string        `json:"difficulty,omitempty"`
	EstimatedDuration int           `json:"estimatedDuration,omitempty"`
	TargetLevel       int           `json:"targetLevel,omitempty"`
	Status            string        `json:"status,omitempty"`
	IsPublic          bool          `json:"isPublic"`
	Settings          Settings      `json:"settings"`
	Participants      []Participant `json:"participants"`
}

// ExportDocument is the serialized form of a single encounter.
type ExportDocument struct {
	Metadata  ExportMetadata `json:"metadata"`
	Encounter Encounter      `json:"encounter"`
}

// BackupMetadata describes a multi-encounter backup.
type BackupMetadata struct {
	BackupDate     time.Time `json:"backupDate"`
	UserID         string    `json:"userId"`
	EncounterCount int       `json:"encounterCount"`
	Format         string    `json:"format"`
}

// BackupDocument is a collection of export documents owned by one user.
// EncounterCount is set by the producer and is not re-verified here.
type BackupDocument struct {
	Metadata   BackupMetadata   `json:"metadata"`
	Encounters []ExportDocument `json:"encounters"`
}

// BackupEnvelope is a shape-checked backup whose entries are decoded on
// demand.
type BackupEnvelope struct {
	Metadata BackupMetadata
	Entries  []BackupEntry
}

// BackupEntry is one not-yet-decoded element of a backup's encounters.
type BackupEntry struct {
	raw interface{}
	doc *ExportDocument
}

// Decode returns the entry as an export document. Type mismatches are
// reported as ErrParse.
func (e BackupEntry) Decode() (*ExportDocument, error) {
	if e.doc != nil {
		return e.doc, nil
	}
	if _, ok := e.raw.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: backup entry must be an object", ErrParse)
	}
	var doc ExportDocument
	if err := reencode(e.raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &doc, nil
}

// Name returns the entry's encounter name when it can be read without a full
// decode, or "".
func (e BackupEntry) Name() string {
	if e.doc != nil {
		return e.doc.Encounter.Name
	}
	obj, _ := e.raw.(map[string]interface{})
	enc, _ := obj["encounter"].(map[string]interface{})
	name, _ := enc["name"].(string)
	return name
}

// Document decodes every entry, failing on the first bad one.
func (env *BackupEnvelope) Document() (*BackupDocument, error) {
	doc := &BackupDocument{
		Metadata:   env.Metadata,
		Encounters: make([]ExportDocument, 0, len(env.Entries)),
	}
	for i, e := range env.Entries {
		entry, err := e.Decode()
		if err != nil {
			return nil, fmt.Errorf("encounters[%d]: %w", i, err)
		}
		doc.Encounters = append(doc.Encounters, *entry)
	}
	return doc, nil
}

// NormalizeFormat lowercases and validates a wire format tag. An empty tag
// defaults to JSON.
func NormalizeFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXML:
		return FormatXML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ContentType returns the MIME type for a normalized format.
func ContentType(format string) string {
	if format == FormatXML {
		return "application/xml"
	}
	return "application/json"
}

// Encode serializes a single export document in the given format.
func Encode(doc *ExportDocument, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return EncodeJSON(doc)
	case FormatXML:
		return EncodeXML(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Decode parses a single export document in the given format.
func Decode(data []byte, format string) (*ExportDocument, error) {
	switch format {
	case FormatJSON:
		return DecodeJSON(data)
	case FormatXML:
		return DecodeXML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EncodeBackup serializes a backup document in the given format.
func EncodeBackup(doc *BackupDocument, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return EncodeBackupJSON(doc)
	case FormatXML:
		return EncodeBackupXML(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// OpenBackup parses the backup envelope in the given format without
// decoding its entries.
func OpenBackup(data []byte, format string) (*BackupEnvelope, error) {
	switch format {
	case FormatJSON:
		return OpenBackupJSON(data)
	case FormatXML:
		return OpenBackupXML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// DecodeBackup parses and shape-checks a backup document in the given format.
func DecodeBackup(data []byte, format string) (*BackupDocument, error) {
	switch format {
	case FormatJSON:
		return DecodeBackupJSON(data)
	case FormatXML:
		return DecodeBackupXML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
