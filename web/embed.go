// Package web holds the dashboard's status page and the script and styles
// it loads, compiled into the binary.
package web

import (
	"embed"
	"io/fs"
	"sync"
)

//go:embed templates/index.html static/*
var assets embed.FS

var static = sync.OnceValue(func() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic("web: static assets missing from build: " + err.Error())
	}
	return sub
})

// IndexHTML returns the dashboard page.
func IndexHTML() ([]byte, error) {
	return assets.ReadFile("templates/index.html")
}

// StaticFS serves app.js and style.css under their bare names.
func StaticFS() fs.FS { return static() }
