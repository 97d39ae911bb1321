package encounter

// ExportOptions controls what an export document carries. The zero value is
// the default for single-encounter exports.
type ExportOptions struct {
	IncludeCharacterSheets bool `json:"includeCharacterSheets" query:"includeCharacterSheets"`
	IncludePrivateNotes    bool `json:"includePrivateNotes" query:"includePrivateNotes"`
	IncludeIDs             bool `json:"includeIds" query:"includeIds"`
	StripPersonalData      bool `json:"stripPersonalData" query:"stripPersonalData"`
}

// ImportOptions controls how a decoded document is materialized. OwnerID is
// always the authenticated caller.
type ImportOptions struct {
	OwnerID                 string `json:"-"`
	PreserveIDs             bool   `json:"preserveIds"`
	CreateMissingCharacters bool   `json:"createMissingCharacters"`
	OverwriteExisting       bool   `json:"overwriteExisting"`
}

// DefaultImportOptions returns the options used when a request omits them.
func DefaultImportOptions(ownerID string) ImportOptions {
	return ImportOptions{
		OwnerID:                 ownerID,
		CreateMissingCharacters: true,
	}
}
