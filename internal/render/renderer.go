// Package render produces channel-specific message bodies from on-disk
// templates. Email bodies are HTML-escaped via html/template; WhatsApp bodies
// are plain text via text/template.
package render

import (
	"bytes"
	htmltemplate "html/template"
	"path/filepath"
	texttemplate "text/template"

	"commrelay/internal/types"
)

// fallbackSubject is used when a template has no subject at all.
const fallbackSubject = "(no subject)"

// Renderer holds the parsed template sets for both channels. Templates are
// parsed once at startup; a missing or broken template file fails the process
// before any task is claimed.
type Renderer struct {
	email    *htmltemplate.Template
	whatsapp *texttemplate.Template
}

// NewRenderer parses every template under dir. Expected layout:
//
//	dir/email/*.html
//	dir/whatsapp/*.txt
func NewRenderer(dir string) (*Renderer, error) {
	email, err := htmltemplate.ParseGlob(filepath.Join(dir, "email", "*.html"))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "failed to parse email templates", err)
	}
	whatsapp, err := texttemplate.ParseGlob(filepath.Join(dir, "whatsapp", "*.txt"))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "failed to parse whatsapp templates", err)
	}
	return &Renderer{email: email, whatsapp: whatsapp}, nil
}

// RenderEmail renders the named email template against the payload.
func (r *Renderer) RenderEmail(ref string, data types.Payload) (string, error) {
	var buf bytes.Buffer
	if err := r.email.ExecuteTemplate(&buf, ref, data); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to render email template "+ref, err)
	}
	return buf.String(), nil
}

// RenderWhatsApp renders the named text template against the payload.
func (r *Renderer) RenderWhatsApp(ref string, data types.Payload) (string, error) {
	var buf bytes.Buffer
	if err := r.whatsapp.ExecuteTemplate(&buf, ref, data); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to render whatsapp template "+ref, err)
	}
	return buf.String(), nil
}

// RenderSubject renders a subject line that may itself contain template
// expressions. A malformed or failing subject degrades to the raw subject
// string; an empty subject degrades to a placeholder. Subjects never fail a
// task.
func RenderSubject(subject string, data types.Payload) string {
	if subject == "" {
		return fallbackSubject
	}
	tmpl, err := texttemplate.New("subject").Parse(subject)
	if err != nil {
		return subject
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return subject
	}
	return buf.String()
}
