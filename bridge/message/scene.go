package message

import (
	"encoding/json"
	"fmt"
)

// Element is one drawing element. The drawing engine owns its schema, so the
// raw JSON is kept verbatim and only the fields the bridge reasons about
// (identity and revision counters) are decoded.
type Element struct {
	ID           string
	Type         string
	Version      int64
	VersionNonce int64
	IsDeleted    bool

	raw json.RawMessage
}

type elementFields struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Version      int64  `json:"version"`
	VersionNonce int64  `json:"versionNonce"`
	IsDeleted    bool   `json:"isDeleted"`
}

// NewElement builds an element with no engine-specific fields.
func NewElement(id, typ string, version, nonce int64) Element {
	return Element{ID: id, Type: typ, Version: version, VersionNonce: nonce}
}

// Raw returns the element JSON as received, or nil for locally built elements.
func (e Element) Raw() json.RawMessage { return e.raw }

func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(elementFields{
		ID:           e.ID,
		Type:         e.Type,
		Version:      e.Version,
		VersionNonce: e.VersionNonce,
		IsDeleted:    e.IsDeleted,
	})
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var f elementFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.ID == "" {
		return fmt.Errorf("element without id")
	}
	*e = Element{
		ID:           f.ID,
		Type:         f.Type,
		Version:      f.Version,
		VersionNonce: f.VersionNonce,
		IsDeleted:    f.IsDeleted,
		raw:          append(json.RawMessage(nil), data...),
	}
	return nil
}

// BinaryFile is an attached binary resource (an embedded image).
type BinaryFile struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	DataURL  string `json:"dataURL"`
	Created  int64  `json:"created,omitempty"`
}

// Scene is a full snapshot of the drawing surface: elements, presentation
// state and attached binaries. Type/Version/Source are only set when the
// scene comes from (or goes to) a file.
type Scene struct {
	Type     string                `json:"type,omitempty"`
	Version  int                   `json:"version,omitempty"`
	Source   string                `json:"source,omitempty"`
	Elements []Element             `json:"elements"`
	AppState json.RawMessage       `json:"appState,omitempty"`
	Files    map[string]BinaryFile `json:"files,omitempty"`
}

// LiveElements returns the elements not marked deleted.
func (s Scene) LiveElements() []Element {
	out := make([]Element, 0, len(s.Elements))
	for _, e := range s.Elements {
		if !e.IsDeleted {
			out = append(out, e)
		}
	}
	return out
}

// ExportConfig carries the runtime's export options.
type ExportConfig struct {
	ExportBackground   bool    `json:"exportBackground"`
	ExportWithDarkMode bool    `json:"exportWithDarkMode"`
	ExportEmbedScene   bool    `json:"exportEmbedScene"`
	ExportScale        float64 `json:"exportScale,omitempty"`
	ExportPadding      int     `json:"exportPadding,omitempty"`
}
