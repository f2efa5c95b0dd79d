// Package policy lets a deployment supply an optional JavaScript expression
// that renders a pipeline's merge-commit message from the approved PR's
// context, grounded on the teacher's system/tee/script_engine.go goja
// runtime-per-call isolation pattern.
//
// Policy evaluation is an authoring-time concern: it runs before an
// Approved event is constructed (typically inside the UI collaborator
// binding), never inside internal/pipeline.Handle. A pipeline that never
// configures a script gets the default template untouched.
package policy

import (
	"fmt"

	"github.com/dop251/goja"
)

// MessageContext is the data a message-rendering script may read.
type MessageContext struct {
	Owner  string
	Repo   string
	Number int
	Commit string
	Title  string
}

// DefaultTemplate renders without any scripting: "Merge #<number>: <title>".
func DefaultTemplate(ctx MessageContext) string {
	return fmt.Sprintf("Merge #%d: %s", ctx.Number, ctx.Title)
}

// Renderer evaluates a configured script to produce a merge-commit message.
// Each Render call gets its own goja.Runtime so one pipeline's script can
// never leak state into another's.
type Renderer struct {
	script string
}

// NewRenderer compiles script once (to fail fast on syntax errors) and
// returns a Renderer that evaluates it per call. script must define a
// top-level function named render(ctx) returning a string.
func NewRenderer(script string) (*Renderer, error) {
	if _, err := goja.Compile("policy.js", script, false); err != nil {
		return nil, fmt.Errorf("compile policy script: %w", err)
	}
	return &Renderer{script: script}, nil
}

// Render runs the configured script against ctx and returns the rendered
// message. Falls back to DefaultTemplate's shape only via caller choice;
// a script error here is always returned rather than silently swallowed.
func (r *Renderer) Render(ctx MessageContext) (string, error) {
	vm := goja.New()

	vm.Set("ctx", map[string]interface{}{
		"owner":  ctx.Owner,
		"repo":   ctx.Repo,
		"number": ctx.Number,
		"commit": ctx.Commit,
		"title":  ctx.Title,
	})

	if _, err := vm.RunString(r.script); err != nil {
		return "", fmt.Errorf("run policy script: %w", err)
	}

	renderFn, ok := goja.AssertFunction(vm.Get("render"))
	if !ok {
		return "", fmt.Errorf("policy script must define a top-level render(ctx) function")
	}

	result, err := renderFn(goja.Undefined(), vm.Get("ctx"))
	if err != nil {
		return "", fmt.Errorf("call render: %w", err)
	}

	return result.String(), nil
}
