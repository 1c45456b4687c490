package web

import "embed"

// Templates holds the portal's HTML templates.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static holds the stylesheet and scripts served under /static/.
//
//go:embed static/**/*
var Static embed.FS
