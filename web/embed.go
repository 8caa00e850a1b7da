// Package web holds the dashboard templates and browser assets.
package web

import "embed"

// TemplatesFS holds the dashboard and error pages.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and the chart script.
//
//go:embed static/*
var StaticFS embed.FS
