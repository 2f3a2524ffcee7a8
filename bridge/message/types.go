package message

// Type is the envelope type tag.
type Type string

// Host → embedded runtime.
const (
	TypeUpdate            Type = "update"
	TypeToggleReadOnly    Type = "toggle-read-only"
	TypeThemeChange       Type = "theme-change"
	TypeToggleSceneModes  Type = "toggle-scene-modes"
	TypeSaveAsJSON        Type = "save-as-json"
	TypeSaveAsSVG         Type = "save-as-svg"
	TypeSaveAsBinaryImage Type = "save-as-binary-image"
)

// Embedded runtime → host.
const (
	TypeReady              Type = "ready"
	TypeContinuousUpdate   Type = "continuous-update"
	TypeJSONContent        Type = "json-content"
	TypeSVGContent         Type = "svg-content"
	TypeBinaryImageContent Type = "binary-image-base64-content"
	TypeRuntimeError       Type = "excalidraw-error"
)

// Mime types exchanged with the runtime and the persistence collaborator.
const (
	MimeJSON = "application/vnd.excalidraw+json"
	MimeSVG  = "image/svg+xml"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"
	MimePDF  = "application/pdf"
)

// Themes understood by the runtime.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// FormatOf maps a mime type to the short export format name used in
// file extensions and export records ("png", "svg", ...). Unknown types
// map to "bin".
func FormatOf(mime string) string {
	switch mime {
	case MimeJSON, "application/json":
		return "json"
	case MimeSVG:
		return "svg"
	case MimePNG:
		return "png"
	case MimeJPEG:
		return "jpeg"
	case MimeWebP:
		return "webp"
	case MimePDF:
		return "pdf"
	}
	return "bin"
}
