package agentiface

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// commandTemplateVars is the context an agent-type's command and cli_args
// are rendered against before shell-quoting, mirroring the teacher's
// internal/template.Engine.RenderGoTemplate (Go templates plus Sprig's
// function set) so configuration documents can express things like
// `--workdir={{ .WorkDir }}` or `{{ .Name | upper }}` instead of the manager
// hardcoding every substitution itself.
type commandTemplateVars struct {
	Name    string
	Type    string
	WorkDir string
	HostId  string
}

// renderCommandTemplate expands s through text/template with Sprig's
// TxtFuncMap when s contains a template delimiter; plain strings (the
// common case - most agent types have no template markup at all) are
// returned unchanged without ever invoking the template engine.
func renderCommandTemplate(s string, vars commandTemplateVars) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("cmd").Funcs(sprig.TxtFuncMap()).Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse command template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render command template: %w", err)
	}
	return buf.String(), nil
}
