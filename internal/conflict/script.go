package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/nfrund/modlink/internal/payload"
)

// ScriptPolicy resolves conflicts with a user-supplied Tengo script, so an
// entity type can carry a custom merge policy without recompiling the app.
//
// Script contract: the script receives the variables entity_id, entity_type,
// ours, theirs, ours_writer, theirs_writer, ours_at and theirs_at (write
// times as Unix nanoseconds). It resolves the conflict by assigning the
// authoritative value to `merged`, or refuses it by assigning a non-empty
// string to `reject_reason`.
type ScriptPolicy struct {
	name    string
	source  []byte
	timeout time.Duration
}

// ScriptOption configures a ScriptPolicy.
type ScriptOption func(*ScriptPolicy)

// WithScriptTimeout bounds a single script execution. Default: 100ms.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(p *ScriptPolicy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewScriptPolicy creates a script policy and dry-compiles the source so
// configuration errors fail at startup rather than at the first conflict.
func NewScriptPolicy(name string, source []byte, opts ...ScriptOption) (*ScriptPolicy, error) {
	p := &ScriptPolicy{
		name:    name,
		source:  source,
		timeout: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}

	script, err := p.prepare(Record{})
	if err != nil {
		return nil, fmt.Errorf("conflict: prepare script %q: %w", name, err)
	}
	if _, err := script.Compile(); err != nil {
		return nil, fmt.Errorf("conflict: compile script %q: %w", name, err)
	}
	return p, nil
}

// Name implements Policy.
func (p *ScriptPolicy) Name() string { return p.name }

// Resolve implements Policy. Script failures of any sort come back as
// rejected resolutions; the engine contract forbids throwing.
func (p *ScriptPolicy) Resolve(rec Record) (res Resolution) {
	defer func() {
		if r := recover(); r != nil {
			res = Rejected(fmt.Sprintf("script panic: %v", r))
		}
	}()

	script, err := p.prepare(rec)
	if err != nil {
		return Rejected("script setup failed: " + err.Error())
	}

	compiled, err := script.Compile()
	if err != nil {
		return Rejected("script compile failed: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := compiled.RunContext(ctx); err != nil {
		return Rejected("script execution failed: " + err.Error())
	}

	if reason, ok := compiled.Get("reject_reason").Value().(string); ok && reason != "" {
		return Rejected(reason)
	}

	raw := compiled.Get("merged").Value()
	if raw == nil {
		return Rejected("script produced no merged value")
	}
	merged, err := payload.FromAny(raw)
	if err != nil {
		return Rejected("script produced unsupported value: " + err.Error())
	}
	return Merged(merged)
}

// prepare builds a fresh script instance with the conflict bound as input
// variables. Scripts are rebuilt per resolution because a tengo.Script is
// not safe for concurrent reuse.
func (p *ScriptPolicy) prepare(rec Record) (*tengo.Script, error) {
	script := tengo.NewScript(p.source)
	script.SetImports(stdlib.GetModuleMap("math", "text", "times"))

	inputs := map[string]any{
		"entity_id":     rec.EntityID,
		"entity_type":   rec.EntityType,
		"ours":          rec.Ours.Value.Interface(),
		"theirs":        rec.Theirs.Value.Interface(),
		"ours_writer":   rec.Ours.Writer,
		"theirs_writer": rec.Theirs.Writer,
		"ours_at":       rec.Ours.WrittenAt.UnixNano(),
		"theirs_at":     rec.Theirs.WrittenAt.UnixNano(),
		"merged":        nil,
		"reject_reason": "",
	}
	for name, value := range inputs {
		if err := script.Add(name, value); err != nil {
			return nil, err
		}
	}
	return script, nil
}
