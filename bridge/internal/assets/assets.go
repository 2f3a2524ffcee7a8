// Package assets embeds the view page: the host document that mounts the
// drawing runtime and the script that speaks the runtime side of the
// protocol.
package assets

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var static embed.FS

// Index is the name of the host document.
const Index = "index.html"

// FS returns the page files rooted at the static directory.
func FS() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves the page files. Mount it with the prefix stripped.
func Handler() http.Handler {
	return http.FileServerFS(FS())
}
