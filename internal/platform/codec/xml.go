package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Root element names of the two XML document kinds.
const (
	rootExport = "encounterExport"
	rootBackup = "encounterBackup"
)

// XML mirror types. Every scalar is a string so that a hand-edited document
// with a bad number or boolean still decodes; values are coerced afterwards.

type xmlExportDocument struct {
	XMLName   xml.Name           `xml:"encounterExport"`
	Metadata  *xmlExportMetadata `xml:"metadata"`
	Encounter *xmlEncounter      `xml:"encounter"`
}

type xmlExportMetadata struct {
	ExportedAt    string `xml:"exportedAt"`
	ExportedBy    string `xml:"exportedBy,omitempty"`
	Format        string `xml:"format"`
	FormatVersion string `xml:"formatVersion"`
	AppVersion    string `xml:"appVersion,omitempty"`
}

type xmlEncounter struct {
	ID                string           `xml:"id,omitempty"`
	Name              string           `xml:"name"`
	Description       string           `xml:"description"`
	Tags              []string         `xml:"tags>tag"`
	Difficulty        string           `xml:"difficulty,omitempty"`
	EstimatedDuration string           `xml:"estimatedDuration,omitempty"`
	TargetLevel       string           `xml:"targetLevel,omitempty"`
	Status            string           `xml:"status,omitempty"`
	IsPublic          string           `xml:"isPublic"`
	Settings          *xmlSettings     `xml:"settings"`
	Participants      []xmlParticipant `xml:"participants>participant"`
}

type xmlSettings struct {
	AllowPlayerVisibility string `xml:"allowPlayerVisibility"`
	AutoRollInitiative    string `xml:"autoRollInitiative"`
	TrackResources        string `xml:"trackResources"`
	EnableLairActions     string `xml:"enableLairActions"`
	LairActionInitiative  string `xml:"lairActionInitiative,omitempty"`
	EnableGrid            string `xml:"enableGrid"`
	GridSize              string `xml:"gridSize,omitempty"`
}

type xmlParticipant struct {
	ID                 string             `xml:"id,omitempty"`
	Name               string             `xml:"name"`
	Type               string             `xml:"type"`
	MaxHitPoints       string             `xml:"maxHitPoints"`
	CurrentHitPoints   string             `xml:"currentHitPoints"`
	TemporaryHitPoints string             `xml:"temporaryHitPoints"`
	ArmorClass         string             `xml:"armorClass"`
	Initiative         string             `xml:"initiative,omitempty"`
	IsPlayer           string             `xml:"isPlayer"`
	IsVisible          string             `xml:"isVisible"`
	Notes              string             `xml:"notes,omitempty"`
	Conditions         []string           `xml:"conditions>condition"`
	CharacterID        string             `xml:"characterId,omitempty"`
	CharacterSheet     *xmlCharacterSheet `xml:"characterSheet,omitempty"`
}

type xmlCharacterSheet struct {
	Name         string `xml:"name"`
	Class        string `xml:"class,omitempty"`
	Race         string `xml:"race,omitempty"`
	Level        string `xml:"level"`
	MaxHitPoints string `xml:"maxHitPoints"`
	ArmorClass   string `xml:"armorClass"`
	PlayerName   string `xml:"playerName,omitempty"`
}

type xmlBackupDocument struct {
	XMLName    xml.Name           `xml:"encounterBackup"`
	Metadata   *xmlBackupMetadata `xml:"metadata"`
	Encounters *xmlBackupEntries  `xml:"encounters"`
}

type xmlBackupMetadata struct {
	BackupDate     string `xml:"backupDate"`
	UserID         string `xml:"userId"`
	EncounterCount string `xml:"encounterCount"`
	Format         string `xml:"format"`
}

type xmlBackupEntries struct {
	Items []xmlBackupEntry `xml:"encounter"`
}

// xmlBackupEntry inlines the entry's export metadata next to the encounter
// fields so that each <encounter> in a backup is self-describing.
type xmlBackupEntry struct {
	Metadata *xmlExportMetadata `xml:"metadata"`
	xmlEncounter
}

// EncodeXML renders a single export document under <encounterExport>.
func EncodeXML(doc *ExportDocument) ([]byte, error) {
	md := toXMLExportMetadata(doc.Metadata)
	enc := toXMLEncounter(doc.Encounter)
	return marshalXML(&xmlExportDocument{Metadata: &md, Encounter: &enc})
}

// DecodeXML parses a single export document. A missing <encounterExport>
// root is reported as ErrParse.
func DecodeXML(data []byte) (*ExportDocument, error) {
	var x xmlExportDocument
	if err := unmarshalRoot(data, rootExport, &x); err != nil {
		return nil, err
	}

	doc := &ExportDocument{}
	if x.Metadata != nil {
		doc.Metadata = fromXMLExportMetadata(*x.Metadata)
	}
	if x.Encounter != nil {
		doc.Encounter = fromXMLEncounter(*x.Encounter)
	}
	return doc, nil
}

// EncodeBackupXML renders a backup under <encounterBackup>, one <encounter>
// element per entry.
func EncodeBackupXML(doc *BackupDocument) ([]byte, error) {
	x := &xmlBackupDocument{
		Metadata: &xmlBackupMetadata{
			BackupDate:     formatTime(doc.Metadata.BackupDate),
			UserID:         doc.Metadata.UserID,
			EncounterCount: strconv.Itoa(doc.Metadata.EncounterCount),
			Format:         doc.Metadata.Format,
		},
		Encounters: &xmlBackupEntries{Items: make([]xmlBackupEntry, 0, len(doc.Encounters))},
	}
	for _, e := range doc.Encounters {
		md := toXMLExportMetadata(e.Metadata)
		x.Encounters.Items = append(x.Encounters.Items, xmlBackupEntry{
			Metadata:     &md,
			xmlEncounter: toXMLEncounter(e.Encounter),
		})
	}
	return marshalXML(x)
}

// DecodeBackupXML parses a backup document. A missing root is ErrParse; a
// missing <metadata> or <encounters> child is ErrInvalidBackupStructure.
func DecodeBackupXML(data []byte) (*BackupDocument, error) {
	env, err := OpenBackupXML(data)
	if err != nil {
		return nil, err
	}
	return env.Document()
}

// OpenBackupXML parses a backup envelope. Every XML scalar is coerced
// leniently, so once the document is well-formed no entry can fail to decode.
func OpenBackupXML(data []byte) (*BackupEnvelope, error) {
	var x xmlBackupDocument
	if err := unmarshalRoot(data, rootBackup, &x); err != nil {
		return nil, err
	}
	if x.Metadata == nil {
		return nil, fmt.Errorf("%w: missing metadata", ErrInvalidBackupStructure)
	}
	if x.Encounters == nil {
		return nil, fmt.Errorf("%w: missing encounters", ErrInvalidBackupStructure)
	}

	env := &BackupEnvelope{
		Metadata: BackupMetadata{
			BackupDate:     parseTime(x.Metadata.BackupDate),
			UserID:         x.Metadata.UserID,
			EncounterCount: parseInt(x.Metadata.EncounterCount),
			Format:         x.Metadata.Format,
		},
		Entries: make([]BackupEntry, 0, len(x.Encounters.Items)),
	}
	for _, item := range x.Encounters.Items {
		entry := &ExportDocument{Encounter: fromXMLEncounter(item.xmlEncounter)}
		if item.Metadata != nil {
			entry.Metadata = fromXMLExportMetadata(*item.Metadata)
		}
		env.Entries = append(env.Entries, BackupEntry{doc: entry})
	}
	return env, nil
}

func marshalXML(v interface{}) ([]byte, error) {
	output, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(xml.Header) + len(output))
	buf.WriteString(xml.Header)
	buf.Write(output)
	return buf.Bytes(), nil
}

// unmarshalRoot decodes the first element of data into v after checking that
// its local name is root.
func unmarshalRoot(data []byte, root string, v interface{}) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: missing <%s> root element", ErrParse, root)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != root {
			return fmt.Errorf("%w: expected <%s> root element, got <%s>", ErrParse, root, start.Name.Local)
		}
		if err := dec.DecodeElement(v, &start); err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		return nil
	}
}

func toXMLExportMetadata(m ExportMetadata) xmlExportMetadata {
	return xmlExportMetadata{
		ExportedAt:    formatTime(m.ExportedAt),
		ExportedBy:    m.ExportedBy,
		Format:        m.Format,
		FormatVersion: m.FormatVersion,
		AppVersion:    m.AppVersion,
	}
}

func fromXMLExportMetadata(x xmlExportMetadata) ExportMetadata {
	return ExportMetadata{
		ExportedAt:    parseTime(x.ExportedAt),
		ExportedBy:    x.ExportedBy,
		Format:        x.Format,
		FormatVersion: x.FormatVersion,
		AppVersion:    x.AppVersion,
	}
}

func toXMLEncounter(e Encounter) xmlEncounter {
	x := xmlEncounter{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Tags:        e.Tags,
		Difficulty:  e.Difficulty,
		Status:      e.Status,
		IsPublic:    strconv.FormatBool(e.IsPublic),
		Settings: &xmlSettings{
			AllowPlayerVisibility: strconv.FormatBool(e.Settings.AllowPlayerVisibility),
			AutoRollInitiative:    strconv.FormatBool(e.Settings.AutoRollInitiative),
			TrackResources:        strconv.FormatBool(e.Settings.TrackResources),
			EnableLairActions:     strconv.FormatBool(e.Settings.EnableLairActions),
			LairActionInitiative:  formatOptionalInt(e.Settings.LairActionInitiative),
			EnableGrid:            strconv.FormatBool(e.Settings.EnableGrid),
			GridSize:              formatOptionalInt(e.Settings.GridSize),
		},
		EstimatedDuration: formatOptionalInt(e.EstimatedDuration),
		TargetLevel:       formatOptionalInt(e.TargetLevel),
	}
	for _, p := range e.Participants {
		xp := xmlParticipant{
			ID:                 p.ID,
			Name:               p.Name,
			Type:               p.Type,
			MaxHitPoints:       strconv.Itoa(p.MaxHitPoints),
			CurrentHitPoints:   strconv.Itoa(p.CurrentHitPoints),
			TemporaryHitPoints: strconv.Itoa(p.TemporaryHitPoints),
			ArmorClass:         strconv.Itoa(p.ArmorClass),
			IsPlayer:           strconv.FormatBool(p.IsPlayer),
			IsVisible:          strconv.FormatBool(p.IsVisible),
			Notes:              p.Notes,
			Conditions:         p.Conditions,
			CharacterID:        p.CharacterID,
		}
		if p.Initiative != nil {
			xp.Initiative = strconv.Itoa(*p.Initiative)
		}
		if cs := p.CharacterSheet; cs != nil {
			xp.CharacterSheet = &xmlCharacterSheet{
				Name:         cs.Name,
				Class:        cs.Class,
				Race:         cs.Race,
				Level:        strconv.Itoa(cs.Level),
				MaxHitPoints: strconv.Itoa(cs.MaxHitPoints),
				ArmorClass:   strconv.Itoa(cs.ArmorClass),
				PlayerName:   cs.PlayerName,
			}
		}
		x.Participants = append(x.Participants, xp)
	}
	return x
}

func fromXMLEncounter(x xmlEncounter) Encounter {
	e := Encounter{
		ID:                x.ID,
		Name:              x.Name,
		Description:       x.Description,
		Tags:              x.Tags,
		Difficulty:        x.Difficulty,
		EstimatedDuration: parseInt(x.EstimatedDuration),
		TargetLevel:       parseInt(x.TargetLevel),
		Status:            x.Status,
		IsPublic:          parseBool(x.IsPublic),
	}
	if s := x.Settings; s != nil {
		e.Settings = Settings{
			AllowPlayerVisibility: parseBool(s.AllowPlayerVisibility),
			AutoRollInitiative:    parseBool(s.AutoRollInitiative),
			TrackResources:        parseBool(s.TrackResources),
			EnableLairActions:     parseBool(s.EnableLairActions),
			LairActionInitiative:  parseInt(s.LairActionInitiative),
			EnableGrid:            parseBool(s.EnableGrid),
			GridSize:              parseInt(s.GridSize),
		}
	}
	for _, xp := range x.Participants {
		p := Participant{
			ID:                 xp.ID,
			Name:               xp.Name,
			Type:               xp.Type,
			MaxHitPoints:       parseInt(xp.MaxHitPoints),
			CurrentHitPoints:   parseInt(xp.CurrentHitPoints),
			TemporaryHitPoints: parseInt(xp.TemporaryHitPoints),
			ArmorClass:         parseInt(xp.ArmorClass),
			Initiative:         parseIntPtr(xp.Initiative),
			IsPlayer:           parseBool(xp.IsPlayer),
			IsVisible:          parseBool(xp.IsVisible),
			Notes:              xp.Notes,
			Conditions:         xp.Conditions,
			CharacterID:        xp.CharacterID,
		}
		if cs := xp.CharacterSheet; cs != nil {
			p.CharacterSheet = &CharacterSheet{
				Name:         cs.Name,
				Class:        cs.Class,
				Race:         cs.Race,
				Level:        parseInt(cs.Level),
				MaxHitPoints: parseInt(cs.MaxHitPoints),
				ArmorClass:   parseInt(cs.ArmorClass),
				PlayerName:   cs.PlayerName,
			}
		}
		e.Participants = append(e.Participants, p)
	}
	return e
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatOptionalInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseIntPtr(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
