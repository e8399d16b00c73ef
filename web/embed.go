// Package web embeds the browser chat client served next to the bot.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves the chat client. Known assets are served as is; every
// other path gets index.html, which opens the /ws/chat connection itself.
func SPAHandler() http.Handler {
	client, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: chat client missing from build: " + err.Error())
	}
	files := http.FileServer(http.FS(client))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)[1:]
		if name == "" {
			name = "index.html"
		}
		if info, err := fs.Stat(client, name); err != nil || info.IsDir() {
			r.URL.Path = "/"
		}
		files.ServeHTTP(w, r)
	})
}
