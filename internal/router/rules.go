package router

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/modlink/internal/payload"
	"github.com/nfrund/modlink/internal/topics"
)

// RuleConfig is the declarative form of a Rule, as found in a rules file.
// Predicates are limited to a single field-equals match; richer predicates
// are registered in code via Rule.Filter.
type RuleConfig struct {
	Name    string       `json:"name" validate:"required"`
	Event   string       `json:"event" validate:"required"`
	Topic   string       `json:"topic" validate:"required"`
	Target  string       `json:"target,omitempty"`
	Match   *MatchConfig `json:"match,omitempty"`
	Comment string       `json:"comment,omitempty"`
}

// MatchConfig restricts a rule to payloads whose field equals a value.
type MatchConfig struct {
	Field  string `json:"field" validate:"required"`
	Equals any    `json:"equals"`
}

var validate = validator.New()

// Compile validates a rule config and turns it into a Rule.
func (rc RuleConfig) Compile() (Rule, error) {
	if err := validate.Struct(rc); err != nil {
		return Rule{}, fmt.Errorf("router: rule %q: %w", rc.Name, err)
	}
	if err := topics.ValidatePattern(rc.Event); err != nil {
		return Rule{}, fmt.Errorf("router: rule %q event: %w", rc.Name, err)
	}
	if err := topics.ValidateName(rc.Topic); err != nil {
		return Rule{}, fmt.Errorf("router: rule %q topic: %w", rc.Name, err)
	}

	rule := Rule{
		Name:         rc.Name,
		EventPattern: rc.Event,
		Topic:        rc.Topic,
		Target:       rc.Target,
	}

	if rc.Match != nil {
		want, err := payload.FromAny(rc.Match.Equals)
		if err != nil {
			return Rule{}, fmt.Errorf("router: rule %q match value: %w", rc.Name, err)
		}
		field := rc.Match.Field
		rule.Filter = func(p payload.Value) bool {
			got, ok := p.Field(field)
			return ok && got.Equal(want)
		}
	}
	return rule, nil
}

// validateRule checks a programmatically-built rule.
func validateRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("router: rule has no name")
	}
	if err := topics.ValidatePattern(rule.EventPattern); err != nil {
		return fmt.Errorf("router: rule %q event: %w", rule.Name, err)
	}
	if err := topics.ValidateName(rule.Topic); err != nil {
		return fmt.Errorf("router: rule %q topic: %w", rule.Name, err)
	}
	return nil
}
