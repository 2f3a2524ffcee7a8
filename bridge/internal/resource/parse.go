package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// ErrInvalidScene is returned by ParseScene for data that is not a scene.
var ErrInvalidScene = errors.New("resource: invalid scene file")

const sceneFileType = "excalidraw"

// ParseScene decodes a scene file. It accepts the full file shape
// ({type, version, source, elements, appState, files}) and a bare element
// array. A file whose type is set to something else is rejected.
func ParseScene(data []byte) (message.Scene, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return message.Scene{}, fmt.Errorf("%w: empty", ErrInvalidScene)
	}

	if data[0] == '[' {
		var els []message.Element
		if err := json.Unmarshal(data, &els); err != nil {
			return message.Scene{}, fmt.Errorf("%w: %v", ErrInvalidScene, err)
		}
		return message.Scene{Elements: els}, nil
	}

	var s message.Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return message.Scene{}, fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}
	if s.Type != "" && s.Type != sceneFileType {
		return message.Scene{}, fmt.Errorf("%w: type %q", ErrInvalidScene, s.Type)
	}
	if s.Elements == nil {
		s.Elements = []message.Element{}
	}
	return s, nil
}
