// Package classify maps repository signals to a runtime classification using
// an ordered rule table. The first rule that fully matches wins.
package classify

import "github.com/splax/manifestor/internal/signals"

// Classifier evaluates a rule table against repository signals.
type Classifier struct {
	rules  []Rule
	policy Policy
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithPolicy replaces the framework priority policy.
func WithPolicy(p Policy) Option {
	return func(c *Classifier) {
		c.policy = p
	}
}

// WithRules replaces the rule table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = append([]Rule(nil), rules...)
	}
}

// New constructs a Classifier with the default rules and policy.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:  DefaultRules(),
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the classification produced by the first matching rule.
// When nothing matches the Unknown defaults are returned; callers surface
// Classification.Warning to the user.
func (c *Classifier) Classify(s signals.RepositorySignals) Classification {
	for _, rule := range c.rules {
		if rule.Match == nil {
			continue
		}
		if out, ok := rule.Match(s, c.policy); ok {
			out.Rule = rule.Name
			return out.normalize()
		}
	}
	out, _ := matchUnknown(s, c.policy)
	out.Rule = "unknown"
	return out.normalize()
}

// Policy returns the framework priority in effect.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Rules lists rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.Name)
	}
	return names
}

// Classify runs the default classifier.
func Classify(s signals.RepositorySignals) Classification {
	return New().Classify(s)
}
