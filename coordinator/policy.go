package coordinator

import "sync"

// Action is a policy rule's verdict.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Conditions describes when a Rule applies. Op is compared against the
// evaluation context's "op" entry; Resource and User are optional
// further narrowing.
type Conditions struct {
	Op       string
	Resource string
	User     string
}

func (c Conditions) matches(ctx map[string]interface{}) bool {
	if c.Op != "" && ctx["op"] != c.Op {
		return false
	}
	if c.Resource != "" && ctx["resource"] != c.Resource {
		return false
	}
	if c.User != "" && ctx["user"] != c.User {
		return false
	}
	return true
}

// Rule is one entry in the policy engine's rule list.
type Rule struct {
	Name       string
	Action     Action
	Conditions Conditions
	Priority   int
	Enabled    bool

	addedSeq int // tie-break: earliest-added wins among equal priority
}

// Decision is the outcome of evaluating a context against the rule list.
type Decision struct {
	Action Action
	Rule   string // name of the matched rule, empty if no rule matched
}

// PolicyEngine holds a hot-editable rule list and evaluates it against
// a per-call context. Ties in priority are broken by insertion order:
// the rule added earliest wins, matching how a human reading the rule
// list top-to-bottom would expect earlier entries to take precedence.
type PolicyEngine struct {
	mu      sync.RWMutex
	rules   []*Rule
	nextSeq int
}

// NewPolicyEngine builds an empty PolicyEngine. With no rules, every
// context evaluates to ActionAllow.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{}
}

// Add appends a new enabled rule and returns it so callers can
// subsequently Enable/Disable it by name.
func (p *PolicyEngine) Add(name string, action Action, conditions Conditions, priority int) *Rule {
	p.mu.Lock()
	defer p.mu.Unlock()

	rule := &Rule{Name: name, Action: action, Conditions: conditions, Priority: priority, Enabled: true, addedSeq: p.nextSeq}
	p.nextSeq++
	p.rules = append(p.rules, rule)
	return rule
}

// Remove deletes the named rule, if present.
func (p *PolicyEngine) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.rules {
		if r.Name == name {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			return
		}
	}
}

// Enable turns on the named rule.
func (p *PolicyEngine) Enable(name string) { p.setEnabled(name, true) }

// Disable turns off the named rule without removing it.
func (p *PolicyEngine) Disable(name string) { p.setEnabled(name, false) }

func (p *PolicyEngine) setEnabled(name string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.rules {
		if r.Name == name {
			r.Enabled = enabled
			return
		}
	}
}

// Evaluate chooses the highest-priority enabled rule whose conditions
// match ctx. Among rules tied at the top priority, the one added
// earliest wins. A deny match is otherwise no different from any other
// match here; callers treat deny as terminal themselves. With no
// matching rule, the default decision is ActionAllow.
func (p *PolicyEngine) Evaluate(ctx map[string]interface{}) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Rule
	for _, r := range p.rules {
		if !r.Enabled || !r.Conditions.matches(ctx) {
			continue
		}
		if best == nil || r.Priority > best.Priority || (r.Priority == best.Priority && r.addedSeq < best.addedSeq) {
			best = r
		}
	}

	if best == nil {
		return Decision{Action: ActionAllow}
	}
	return Decision{Action: best.Action, Rule: best.Name}
}
