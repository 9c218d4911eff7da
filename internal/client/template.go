package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/artefact"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/funsie"
)

const templateFuncName = "funsies.template"

// templatePayload is the "!template" input's JSON content: the raw template
// text plus the sorted variable-name order the runner will zip against the
// rest of the positional arguments (funsie.Callable loses argument names,
// see runner.invokeFunc's sortedNames convention).
type templatePayload struct {
	Text string   `json:"text"`
	Vars []string `json:"vars"`
}

func init() {
	if err := funsie.Register(templateFuncName, templateRender, templateOutputShape); err != nil {
		panic(err)
	}
}

// templateOutputShape exists only so InferOutputKinds can see a real,
// typed single-Blob-return signature at registration time.
func templateOutputShape() ([]byte, error) { return nil, nil }

// templateRender substitutes "{{name}}" placeholders in the declared
// template text with each variable's value, rendered YAML-flavoured (blob
// values pass through verbatim, json values are marshalled with yaml.v3 so
// structured values substitute as readable scalars/flow collections rather
// than Go's %v).
func templateRender(args []codec.Value) ([]codec.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("client: template: missing !template input")
	}
	raw, err := json.Marshal(args[0].JSON)
	if err != nil {
		return nil, fmt.Errorf("client: template: decoding payload: %w", err)
	}
	var payload templatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("client: template: decoding payload: %w", err)
	}
	if len(args)-1 != len(payload.Vars) {
		return nil, fmt.Errorf("client: template: expected %d variables, got %d", len(payload.Vars), len(args)-1)
	}

	text := payload.Text
	for i, name := range payload.Vars {
		rendered, err := renderValue(args[i+1])
		if err != nil {
			return nil, fmt.Errorf("client: template: rendering %q: %w", name, err)
		}
		text = strings.ReplaceAll(text, "{{"+name+"}}", rendered)
	}
	return []codec.Value{codec.Bytes([]byte(text))}, nil
}

func renderValue(v codec.Value) (string, error) {
	if v.Kind == codec.Blob {
		return string(v.Bytes), nil
	}
	b, err := yaml.Marshal(v.JSON)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Template constructs a func funsie that renders tmpl with vars
// substituted in. Each entry of vars becomes a named
// input alongside the template text itself, so the rendered output's hash
// depends on both the template and the concrete values given.
func (c *Context) Template(ctx context.Context, tmpl string, vars map[string]*artefact.Artefact, strict bool, opts ...Option) (*artefact.Artefact, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	payloadArtefact, err := c.PutJSON(ctx, templatePayload{Text: tmpl, Vars: names})
	if err != nil {
		return nil, err
	}

	inputs := make(map[string]*artefact.Artefact, len(vars)+1)
	for name, a := range vars {
		inputs[name] = a
	}
	inputs["!template"] = payloadArtefact

	outs, err := c.Py(ctx, templateFuncName, inputs, []string{"rendered"}, strict, opts...)
	if err != nil {
		return nil, err
	}
	return outs["rendered"], nil
}
