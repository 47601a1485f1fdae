// Package render resolves templates and produces the subject and body
// snapshot that gets persisted into the queue.
package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

// ErrTemplateNotFound is returned when a key does not resolve to an
// active template. Nothing is queued in that case.
var ErrTemplateNotFound = errors.New("template not found")

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// TemplateSource resolves template keys to templates.
type TemplateSource interface {
	GetByKey(ctx context.Context, key string) (*models.Template, error)
}

// Rendered is the final content of a message.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders named templates with variable bindings.
type Renderer struct {
	templates TemplateSource
}

func New(templates TemplateSource) *Renderer {
	return &Renderer{templates: templates}
}

// Render resolves key to an active template and substitutes variables
// into subject, HTML and text. Substitution is deliberately
// permissive: unresolved tokens are left verbatim so partial bindings
// never block message admission.
func (r *Renderer) Render(ctx context.Context, key string, vars map[string]string) (*Rendered, error) {
	tmpl, err := r.templates.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template %q: %w", key, err)
	}
	if tmpl == nil || !tmpl.Active {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}

	return RenderTemplate(tmpl, vars), nil
}

// RenderTemplate substitutes variables into an already-resolved
// template.
func RenderTemplate(tmpl *models.Template, vars map[string]string) *Rendered {
	return &Rendered{
		Subject: Substitute(tmpl.Subject, vars),
		HTML:    Substitute(tmpl.HTML, vars),
		Text:    Substitute(tmpl.Text, vars),
	}
}

// Substitute replaces {{name}} tokens with their bindings. Tokens
// without a binding pass through unchanged.
func Substitute(s string, vars map[string]string) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}

	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
