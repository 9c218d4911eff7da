// Package runner implements the per-operation execution engine: it loads
// an operation's inputs, dispatches to the shell/python/subdag how-kind,
// and writes outputs or errors back through the artefact store.
package runner

import "encoding/json"

// ShellSpec is the structured form of a shell funsie's Extra payload. It
// is JSON-encoded since it is never part of any hash, and JSON keeps it
// forward compatible with added fields.
type ShellSpec struct {
	Commands []string          `json:"commands"`
	Env      map[string]string `json:"env,omitempty"`
}

// Pack serializes a ShellSpec for storage as a funsie's Extra bytes.
func (s ShellSpec) Pack() ([]byte, error) { return json.Marshal(s) }

// UnpackShellSpec reverses Pack.
func UnpackShellSpec(extra []byte) (ShellSpec, error) {
	var s ShellSpec
	if len(extra) == 0 {
		return s, nil
	}
	err := json.Unmarshal(extra, &s)
	return s, err
}

// FuncSpec is a structured Extra payload for a python-how funsie: optional
// input and output name orders. The callable's registry key travels in
// funsie.What, not here. The client's Py builder stores no Extra, and the
// runner does not read a FuncSpec.
type FuncSpec struct {
	InputOrder  []string `json:"input_order,omitempty"`
	OutputOrder []string `json:"output_order,omitempty"`
}

// Pack serializes a FuncSpec.
func (s FuncSpec) Pack() ([]byte, error) { return json.Marshal(s) }

// UnpackFuncSpec reverses Pack.
func UnpackFuncSpec(extra []byte) (FuncSpec, error) {
	var s FuncSpec
	if len(extra) == 0 {
		return s, nil
	}
	err := json.Unmarshal(extra, &s)
	return s, err
}
