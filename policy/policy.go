package policy

import (
	"context"
	"strings"
)

// Execution modes recognised by the engine.
const (
	ModeAsk  = "ask"  // ask before every action
	ModeAuto = "auto" // execute automatically (default)
	ModeDeny = "deny" // block execution
)

// AskFunc is invoked when Mode==ask. Returning true approves the action,
// false rejects it. Implementations may mutate the policy, for example
// switching to ModeAuto after the first approval.
type AskFunc func(
	ctx context.Context,
	action string, // service.method
	args map[string]interface{}, // expanded input parameters, may be nil
	p *Policy,
) bool

// Policy holds the approval settings for the current run.
//
//   - Mode controls the high-level behaviour (ask / auto / deny).
//   - AllowList and BlockList filter actions regardless of Mode.
//   - Ask is consulted only when Mode==ask.
//
// A nil *Policy means "execute everything automatically".
type Policy struct {
	Mode      string
	AllowList []string // empty allows all
	BlockList []string
	Ask       AskFunc
}

// Config is the declarative, serialisable part of a Policy; AskFunc cannot
// be persisted alongside a stored run.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy without an
// AskFunc.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// IsAllowed evaluates AllowList / BlockList. Both lists match the
// fully-qualified action name "service.method" case-insensitively, and the
// BlockList has priority.
func (p *Policy) IsAllowed(action string) bool {
	if p == nil {
		return true
	}

	normalized := strings.ToLower(action)

	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}

	if len(p.AllowList) == 0 {
		return true
	}

	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}

	return false
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds the policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy from ctx, or nil when absent.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
