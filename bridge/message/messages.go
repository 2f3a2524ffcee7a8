package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is any typed payload that maps to one envelope type.
type Message interface {
	Type() Type
}

// Outbound is the closed set of host → runtime messages.
type Outbound interface {
	Message
	outbound()
}

// Inbound is the closed set of runtime → host messages.
type Inbound interface {
	Message
	inbound()
}

// Correlated is implemented by inbound responses to round-trip commands.
type Correlated interface {
	Inbound
	Correlation() string
	Content() string
}

// Update pushes scene elements to the runtime. The initial update also
// carries appState and files.
type Update struct {
	Elements []Element             `json:"elements"`
	AppState json.RawMessage       `json:"appState,omitempty"`
	Files    map[string]BinaryFile `json:"files,omitempty"`
}

type ToggleReadOnly struct {
	ReadOnly bool `json:"readOnly"`
}

type ThemeChange struct {
	Theme string `json:"theme"`
}

// ToggleSceneModes only touches the modes that are set.
type ToggleSceneModes struct {
	GridMode *bool `json:"gridMode,omitempty"`
	ZenMode  *bool `json:"zenMode,omitempty"`
}

type SaveAsJSON struct {
	CorrelationID string `json:"correlationId,omitempty"`
}

type SaveAsSVG struct {
	ExportConfig  ExportConfig `json:"exportConfig"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

type SaveAsBinaryImage struct {
	ExportConfig  ExportConfig `json:"exportConfig"`
	MimeType      string       `json:"mimeType"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

func (Update) Type() Type            { return TypeUpdate }
func (ToggleReadOnly) Type() Type    { return TypeToggleReadOnly }
func (ThemeChange) Type() Type       { return TypeThemeChange }
func (ToggleSceneModes) Type() Type  { return TypeToggleSceneModes }
func (SaveAsJSON) Type() Type        { return TypeSaveAsJSON }
func (SaveAsSVG) Type() Type         { return TypeSaveAsSVG }
func (SaveAsBinaryImage) Type() Type { return TypeSaveAsBinaryImage }

func (Update) outbound()            {}
func (ToggleReadOnly) outbound()    {}
func (ThemeChange) outbound()       {}
func (ToggleSceneModes) outbound()  {}
func (SaveAsJSON) outbound()        {}
func (SaveAsSVG) outbound()         {}
func (SaveAsBinaryImage) outbound() {}

// Ready is the runtime's bare "page is up" signal.
type Ready struct{}

// ContinuousUpdate is an unsolicited scene snapshot. Its payload is the
// serialized scene itself.
type ContinuousUpdate struct {
	Scene Scene
}

type JSONContent struct {
	JSON          string `json:"json"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type SVGContent struct {
	SVG           string `json:"svg"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// BinaryImageContent carries base64 (optionally a data URL) image bytes.
type BinaryImageContent struct {
	Base64Payload string `json:"base64Payload"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type RuntimeError struct {
	ErrorMessage string `json:"errorMessage"`
}

func (Ready) Type() Type              { return TypeReady }
func (ContinuousUpdate) Type() Type   { return TypeContinuousUpdate }
func (JSONContent) Type() Type        { return TypeJSONContent }
func (SVGContent) Type() Type         { return TypeSVGContent }
func (BinaryImageContent) Type() Type { return TypeBinaryImageContent }
func (RuntimeError) Type() Type       { return TypeRuntimeError }

func (Ready) inbound()              {}
func (ContinuousUpdate) inbound()   {}
func (JSONContent) inbound()        {}
func (SVGContent) inbound()         {}
func (BinaryImageContent) inbound() {}
func (RuntimeError) inbound()       {}

func (m JSONContent) Correlation() string        { return m.CorrelationID }
func (m SVGContent) Correlation() string         { return m.CorrelationID }
func (m BinaryImageContent) Correlation() string { return m.CorrelationID }

func (m JSONContent) Content() string        { return m.JSON }
func (m SVGContent) Content() string         { return m.SVG }
func (m BinaryImageContent) Content() string { return m.Base64Payload }

// EncodeMessage serializes m's payload and wraps it in envelope text.
func EncodeMessage(m Message) (string, error) {
	var payload []byte
	var err error
	switch v := m.(type) {
	case Ready:
		return Encode(TypeReady, "")
	case ContinuousUpdate:
		payload, err = json.Marshal(v.Scene)
	default:
		payload, err = json.Marshal(m)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s payload: %v", ErrEncoding, m.Type(), err)
	}
	return Encode(m.Type(), string(payload))
}

// ParseInbound classifies a decoded envelope into its Inbound variant.
func ParseInbound(env Envelope) (Inbound, error) {
	switch env.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeContinuousUpdate:
		var s Scene
		if err := unmarshalPayload(env, &s); err != nil {
			return nil, err
		}
		return ContinuousUpdate{Scene: s}, nil
	case TypeJSONContent:
		return inboundAs[JSONContent](env)
	case TypeSVGContent:
		return inboundAs[SVGContent](env)
	case TypeBinaryImageContent:
		return inboundAs[BinaryImageContent](env)
	case TypeRuntimeError:
		return inboundAs[RuntimeError](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
}

// ParseOutbound classifies a decoded envelope into its Outbound variant.
// The runtime side of the protocol uses it.
func ParseOutbound(env Envelope) (Outbound, error) {
	switch env.Type {
	case TypeUpdate:
		return outboundAs[Update](env)
	case TypeToggleReadOnly:
		return outboundAs[ToggleReadOnly](env)
	case TypeThemeChange:
		return outboundAs[ThemeChange](env)
	case TypeToggleSceneModes:
		return outboundAs[ToggleSceneModes](env)
	case TypeSaveAsJSON:
		if env.Data == "" {
			return SaveAsJSON{}, nil
		}
		return outboundAs[SaveAsJSON](env)
	case TypeSaveAsSVG:
		return outboundAs[SaveAsSVG](env)
	case TypeSaveAsBinaryImage:
		return outboundAs[SaveAsBinaryImage](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
}

func inboundAs[T Inbound](env Envelope) (Inbound, error) {
	var m T
	if err := unmarshalPayload(env, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func outboundAs[T Outbound](env Envelope) (Outbound, error) {
	var m T
	if err := unmarshalPayload(env, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalPayload(env Envelope, v any) error {
	if err := json.Unmarshal([]byte(env.Data), v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrDecoding, env.Type, err)
	}
	return nil
}

// DecodeBase64Payload decodes a binary export payload. A leading data URL
// header ("data:image/png;base64,") is accepted and stripped.
func DecodeBase64Payload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: data URL without comma", ErrDecoding)
		}
		payload = payload[idx+1:]
	}
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: base64 payload: %v", ErrDecoding, err)
	}
	return data, nil
}
