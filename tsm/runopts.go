package tsm

import (
	"fmt"
	"sort"
	"strings"
)

// ValueKind tags the scalar types a RunConfig value may hold, replacing
// the source's duck-typed storage with an explicit, checkable variant.
type ValueKind int

const (
	StringKind ValueKind = iota
	IntKind
	FloatKind
	BoolKind
)

func (k ValueKind) String() string {
	switch k {
	case StringKind:
		return "string"
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case BoolKind:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar stored in a RunConfig.
type Value struct {
	Kind  ValueKind
	S     string
	I     int
	F     float64
	B     bool
}

func StringValue(s string) Value { return Value{Kind: StringKind, S: s} }
func IntValue(i int) Value       { return Value{Kind: IntKind, I: i} }
func FloatValue(f float64) Value { return Value{Kind: FloatKind, F: f} }
func BoolValue(b bool) Value     { return Value{Kind: BoolKind, B: b} }

// Raw returns the value unwrapped from its tag, for callers that just want
// to print or serialize it.
func (v Value) Raw() interface{} {
	switch v.Kind {
	case StringKind:
		return v.S
	case IntKind:
		return v.I
	case FloatKind:
		return v.F
	case BoolKind:
		return v.B
	default:
		return nil
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%v", v.Raw())
}

// RunConfig is an ordered, equal-by-contents bag of option name -> Value,
// validated against a scheduler's runopts before use. It supports a
// trivial round-trip to a plain map via AsMap/RunConfigFromMap.
type RunConfig struct {
	order  []string
	values map[string]Value
}

// NewRunConfig returns an empty RunConfig.
func NewRunConfig() *RunConfig {
	return &RunConfig{values: map[string]Value{}}
}

// RunConfigFromMap builds a RunConfig from a plain map, for deserialization.
// Keys are inserted in sorted order, since a plain map carries no order of
// its own; this is only meant for round-tripping, not for order-sensitive use.
func RunConfigFromMap(m map[string]Value) *RunConfig {
	cfg := NewRunConfig()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Set(k, m[k])
	}
	return cfg
}

// Set assigns a value to a named option, appending to the order if new.
func (c *RunConfig) Set(name string, v Value) {
	if _, exists := c.values[name]; !exists {
		c.order = append(c.order, name)
	}
	c.values[name] = v
}

// Get returns the value for name and whether it was present.
func (c *RunConfig) Get(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Delete removes name from the config, making Get report "absent" again.
func (c *RunConfig) Delete(name string) {
	if _, exists := c.values[name]; exists {
		delete(c.values, name)
		for i, n := range c.order {
			if n == name {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// Keys returns the option names in insertion order.
func (c *RunConfig) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// AsMap returns a plain copy of the config's contents.
func (c *RunConfig) AsMap() map[string]Value {
	out := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy of c: mutating the clone never affects
// c. Used by runopts.Resolve to honor "the caller's original config is
// never mutated".
func (c *RunConfig) Clone() *RunConfig {
	clone := NewRunConfig()
	for _, k := range c.order {
		clone.Set(k, c.values[k])
	}
	return clone
}

// Equal reports whether two RunConfigs hold the same set of option/value
// pairs (order does not matter).
func (c *RunConfig) Equal(other *RunConfig) bool {
	if other == nil || len(c.values) != len(other.values) {
		return false
	}
	for k, v := range c.values {
		ov, ok := other.values[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// RunOption describes one entry in a runopts registry: its declared type,
// help text, optional default, and whether it's required. required and
// default are mutually exclusive (enforced by runopts.Add).
type RunOption struct {
	Name     string
	Kind     ValueKind
	Help     string
	Default  *Value
	Required bool
}

// RunOpts is a scheduler's registry of the run-config options it
// understands, keyed by option name, used to Resolve caller-supplied
// RunConfigs (see spec §4.3).
type RunOpts struct {
	order   []string
	options map[string]RunOption
}

// NewRunOpts returns an empty option registry.
func NewRunOpts() *RunOpts {
	return &RunOpts{options: map[string]RunOption{}}
}

// Add registers a new option. It fails with a *ValueError if required and
// default are both set, and with a *TypeError if default's runtime type
// disagrees with kind.
func (o *RunOpts) Add(name string, kind ValueKind, help string, def *Value, required bool) error {
	if required && def != nil {
		return &ValueError{Op: "runopts.Add " + name, Reason: "required and default are mutually exclusive"}
	}
	if def != nil && def.Kind != kind {
		return &TypeError{Option: name, Reason: fmt.Sprintf("default is %s, option declared as %s", def.Kind, kind)}
	}

	if _, exists := o.options[name]; !exists {
		o.order = append(o.order, name)
	}
	o.options[name] = RunOption{Name: name, Kind: kind, Help: help, Default: def, Required: required}
	return nil
}

// Resolve validates cfg against the registered options and returns a new,
// resolved RunConfig: registered options present in cfg are type-checked,
// missing ones get their default (or fail if required), and any key cfg
// carries that this registry doesn't know about passes through unchanged
// (a RunConfig is a union across every backend's schema). cfg itself is
// never mutated.
func (o *RunOpts) Resolve(cfg *RunConfig) (*RunConfig, error) {
	resolved := cfg.Clone()

	for _, name := range o.order {
		opt := o.options[name]
		if v, present := resolved.Get(name); present {
			if v.Kind != opt.Kind {
				return nil, &InvalidRunConfigError{
					Option: name,
					Reason: fmt.Sprintf("expected %s, got %s", opt.Kind, v.Kind),
				}
			}
			continue
		}
		if opt.Default != nil {
			resolved.Set(name, *opt.Default)
			continue
		}
		if opt.Required {
			return nil, &InvalidRunConfigError{Option: name, Reason: "required option not supplied"}
		}
	}

	return resolved, nil
}

// String renders a human-readable help table, in the spirit of the
// source's runopts.__repr__: one line per option with its kind, whether
// it is required or its default, and its help text.
func (o *RunOpts) String() string {
	var b strings.Builder
	for _, name := range o.order {
		opt := o.options[name]
		fmt.Fprintf(&b, "%-20s %-8s", opt.Name, opt.Kind)
		if opt.Required {
			b.WriteString(" (required)")
		} else if opt.Default != nil {
			fmt.Fprintf(&b, " (default: %v)", opt.Default.Raw())
		}
		if opt.Help != "" {
			fmt.Fprintf(&b, " - %s", opt.Help)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// valueKindOf infers a ValueKind from a Go runtime value (string, int,
// float64 or bool), reporting false for any other type.
func valueKindOf(v interface{}) (ValueKind, bool) {
	switch v.(type) {
	case string:
		return StringKind, true
	case int:
		return IntKind, true
	case float64:
		return FloatKind, true
	case bool:
		return BoolKind, true
	default:
		return 0, false
	}
}
