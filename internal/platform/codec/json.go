package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// api mirrors encoding/json behaviour (sorted map keys, HTML escaping) so the
// output is stable across runs.
var api = sonic.ConfigStd

// EncodeJSON pretty-prints a single export document with a two-space indent.
func EncodeJSON(doc *ExportDocument) ([]byte, error) {
	out, err := api.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export json: %w", err)
	}
	return out, nil
}

// DecodeJSON parses a single export document. Syntax and type errors are
// reported as ErrParse.
func DecodeJSON(data []byte) (*ExportDocument, error) {
	var doc ExportDocument
	if err := api.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &doc, nil
}

// EncodeBackupJSON pretty-prints a backup document with a two-space indent.
func EncodeBackupJSON(doc *BackupDocument) ([]byte, error) {
	out, err := api.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup json: %w", err)
	}
	return out, nil
}

// DecodeBackupJSON parses a backup document, failing on the first entry
// that does not decode. Use OpenBackupJSON to decode entries one at a time.
func DecodeBackupJSON(data []byte) (*BackupDocument, error) {
	env, err := OpenBackupJSON(data)
	if err != nil {
		return nil, err
	}
	return env.Document()
}

// OpenBackupJSON checks the backup shape with ValidateBackupShape and decodes
// only the metadata. Each entry stays in its generic form until Decode, so a
// badly typed entry fails alone.
func OpenBackupJSON(data []byte) (*BackupEnvelope, error) {
	var raw interface{}
	if err := api.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := ValidateBackupShape(raw); err != nil {
		return nil, err
	}
	obj := raw.(map[string]interface{})

	env := &BackupEnvelope{}
	if err := reencode(obj["metadata"], &env.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrParse, err)
	}
	items := obj["encounters"].([]interface{})
	env.Entries = make([]BackupEntry, len(items))
	for i, item := range items {
		env.Entries[i] = BackupEntry{raw: item}
	}
	return env, nil
}

// reencode converts a generically decoded value into v.
func reencode(in interface{}, v interface{}) error {
	data, err := api.Marshal(in)
	if err != nil {
		return err
	}
	return api.Unmarshal(data, v)
}

// ValidateBackupShape confirms that a generically decoded value is an object
// with a "metadata" object and an "encounters" array. Field types below that
// level are not checked.
func ValidateBackupShape(parsed interface{}) error {
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: backup must be an object", ErrInvalidBackupStructure)
	}
	if _, ok := obj["metadata"].(map[string]interface{}); !ok {
		return fmt.Errorf("%w: missing metadata", ErrInvalidBackupStructure)
	}
	if _, ok := obj["encounters"].([]interface{}); !ok {
		return fmt.Errorf("%w: encounters must be an array", ErrInvalidBackupStructure)
	}
	return nil
}
