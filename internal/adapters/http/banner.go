package web

import (
	"bytes"
	"html/template"
	"log/slog"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/route"
)

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set), preventing XSS.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// bannerConfig holds the pre-rendered notice shared by every banner.
type bannerConfig struct {
	notice template.HTML
}

// newBannerConfig renders markdown once. An empty notice leaves the banner
// with the trainee name and exit control only.
func newBannerConfig(markdown string) bannerConfig {
	if markdown == "" {
		return bannerConfig{}
	}
	return bannerConfig{notice: renderMarkdown(markdown)}
}

// Banner is the view model of the impersonation banner.
type Banner struct {
	TraineeName string
	Notice      template.HTML
	ExitPath    string
}

// bannerFor returns the banner for rec, or nil when no impersonation is active.
// The banner only reflects the record; it never decides where the browser goes.
func (c bannerConfig) bannerFor(rec *impersonation.Record) *Banner {
	if rec == nil {
		return nil
	}
	return &Banner{
		TraineeName: rec.DisplayName(),
		Notice:      c.notice,
		ExitPath:    route.ImpersonationEnd,
	}
}

// renderMarkdown converts markdown to HTML, falling back to escaped text.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		slog.Warn("markdown_render_failed", "error", err)
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
