package bridge

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/hazyhaar/sketchbridge/bridge/message"
	"github.com/hazyhaar/sketchbridge/kit"
)

// ThemeRequest is the argument of the theme endpoint.
type ThemeRequest struct {
	Theme string `json:"theme"`
}

// ReadOnlyRequest is the argument of the read-only endpoint.
type ReadOnlyRequest struct {
	ReadOnly bool `json:"read_only"`
}

// SceneModesRequest is the argument of the scene-modes endpoint. Omitted
// modes are left untouched.
type SceneModesRequest struct {
	GridMode *bool `json:"grid_mode,omitempty"`
	ZenMode  *bool `json:"zen_mode,omitempty"`
}

// OpenRequest is the argument of the open endpoint.
type OpenRequest struct {
	Resource string `json:"resource"`
}

// ExportCall is the argument of the export endpoint.
type ExportCall struct {
	Format    string               `json:"format"`
	Config    message.ExportConfig `json:"config"`
	Name      string               `json:"name,omitempty"`
	WriteFile bool                 `json:"write_file,omitempty"`
}

// ExportReply carries the export metadata and, for text formats or when
// asked, its content. Binary content is base64.
type ExportReply struct {
	*ExportResult
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

type okResponse struct {
	Status string `json:"status"`
}

var okReply = okResponse{Status: "ok"}

// endpoints are shared by the HTTP and MCP surfaces.
type endpoints struct {
	status     kit.Endpoint
	theme      kit.Endpoint
	readOnly   kit.Endpoint
	sceneModes kit.Endpoint
	open       kit.Endpoint
	reload     kit.Endpoint
	save       kit.Endpoint
	export     kit.Endpoint
}

func (b *Bridge) endpoints() endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Logging(b.logger, name)(ep)
	}
	return endpoints{
		status: wrap("status", func(context.Context, any) (any, error) {
			return b.Status(), nil
		}),
		theme: wrap("theme", func(ctx context.Context, req any) (any, error) {
			r := req.(*ThemeRequest)
			if err := b.SetTheme(ctx, r.Theme); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		readOnly: wrap("read_only", func(_ context.Context, req any) (any, error) {
			if err := b.SetReadOnly(req.(*ReadOnlyRequest).ReadOnly); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		sceneModes: wrap("scene_modes", func(_ context.Context, req any) (any, error) {
			r := req.(*SceneModesRequest)
			if err := b.SetSceneModes(r.GridMode, r.ZenMode); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		open: wrap("open", func(ctx context.Context, req any) (any, error) {
			r := req.(*OpenRequest)
			if r.Resource == "" {
				return nil, fmt.Errorf("%w: empty resource", ErrInvalidArgument)
			}
			if err := b.Open(ctx, r.Resource); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		reload: wrap("reload", func(ctx context.Context, _ any) (any, error) {
			if err := b.Reload(ctx); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		save: wrap("save", func(context.Context, any) (any, error) {
			if err := b.RequestSave(); err != nil {
				return nil, err
			}
			return okReply, nil
		}),
		export: wrap("export", func(ctx context.Context, req any) (any, error) {
			r := req.(*ExportCall)
			res, err := b.Export(ctx, ExportRequest{
				Format:    r.Format,
				Config:    r.Config,
				Name:      r.Name,
				WriteFile: r.WriteFile,
			})
			if err != nil {
				return nil, err
			}
			return newExportReply(res), nil
		}),
	}
}

func newExportReply(res *ExportResult) *ExportReply {
	reply := &ExportReply{ExportResult: res}
	switch res.Format {
	case "json", "svg":
		reply.Encoding, reply.Content = "utf-8", string(res.Data)
	default:
		reply.Encoding, reply.Content = "base64", base64.StdEncoding.EncodeToString(res.Data)
	}
	return reply
}
