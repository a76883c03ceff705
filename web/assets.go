package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var Assets embed.FS

func Static() (fs.FS, error) {
	return fs.Sub(Assets, "static")
}
