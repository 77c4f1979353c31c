// Package rules holds taught constraints.
//
// A rule is free text. Text starting with "forbid" is a directive the router
// and ticket engine enforce; anything else is advisory and only forwarded
// to the planner. Rules are append-only: a Book is an immutable snapshot and
// teaching a rule yields a new Book.
package rules

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"bobchad/internal/logging"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrMalformedDirective is returned when a rule looks like a directive but cannot be parsed.
var ErrMalformedDirective = errors.New("malformed rule directive")

// Rule is a taught constraint.
type Rule struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Target is what a directive constrains.
type Target string

const (
	TargetPath   Target = "path"
	TargetTool   Target = "tool"
	TargetArea   Target = "area"
	TargetCreate Target = "create"
)

// Directive is the machine-enforced form of a rule.
type Directive struct {
	Target Target
	Arg    string // glob, tool name or area; empty for create
}

// ParseDirective parses "forbid path <glob>", "forbid tool <name>",
// "forbid area <area>" and "forbid create". ok is false for advisory text.
func ParseDirective(text string) (Directive, bool, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "forbid") {
		return Directive{}, false, nil
	}
	if len(fields) < 2 {
		return Directive{}, true, fmt.Errorf("%w: %q needs a target", ErrMalformedDirective, text)
	}

	target := Target(strings.ToLower(fields[1]))
	switch target {
	case TargetCreate:
		if len(fields) != 2 {
			return Directive{}, true, fmt.Errorf("%w: %q takes no argument", ErrMalformedDirective, text)
		}
		return Directive{Target: target}, true, nil
	case TargetPath, TargetTool, TargetArea:
		if len(fields) != 3 {
			return Directive{}, true, fmt.Errorf("%w: %q needs exactly one argument", ErrMalformedDirective, text)
		}
		arg := fields[2]
		if target == TargetPath && !doublestar.ValidatePattern(arg) {
			return Directive{}, true, fmt.Errorf("%w: invalid glob %q", ErrMalformedDirective, arg)
		}
		return Directive{Target: target, Arg: arg}, true, nil
	}
	return Directive{}, true, fmt.Errorf("%w: unknown target %q (want path, tool, area or create)", ErrMalformedDirective, fields[1])
}

type compiled struct {
	rule      Rule
	directive Directive
}

// Book is an immutable snapshot of the taught rules.
type Book struct {
	rules      []Rule
	directives []compiled
	advisory   []string
}

// NewBook compiles rules. Malformed directives are kept as advisory text;
// Teach rejects them up front so this only happens for hand-edited stores.
func NewBook(rs []Rule) *Book {
	b := &Book{rules: append([]Rule(nil), rs...)}
	for _, r := range rs {
		d, ok, err := ParseDirective(r.Text)
		if ok && err == nil {
			b.directives = append(b.directives, compiled{rule: r, directive: d})
			continue
		}
		b.advisory = append(b.advisory, r.Text)
	}
	return b
}

// Rules returns all rules in teaching order.
func (b *Book) Rules() []Rule {
	if b == nil {
		return nil
	}
	return append([]Rule(nil), b.rules...)
}

// Advisory returns the rule texts that are not directives.
func (b *Book) Advisory() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.advisory...)
}

// Subject describes a plan for rule checks. Paths are slash-separated and
// relative to the project root.
type Subject struct {
	Tool    string
	Paths   []string
	Creates bool
}

// CheckPlan returns the first rule the subject violates.
func (b *Book) CheckPlan(s Subject) (Rule, bool) {
	if b == nil {
		return Rule{}, false
	}
	for _, c := range b.directives {
		switch c.directive.Target {
		case TargetTool:
			if s.Tool != "" && s.Tool == c.directive.Arg {
				return c.rule, true
			}
		case TargetCreate:
			if s.Creates {
				return c.rule, true
			}
		case TargetPath:
			if matchAny(c.directive.Arg, s.Paths) {
				return c.rule, true
			}
		}
	}
	return Rule{}, false
}

// ForbidsTicket returns the first rule that forbids a ticket in area touching paths.
func (b *Book) ForbidsTicket(area string, paths []string) (Rule, bool) {
	if b == nil {
		return Rule{}, false
	}
	for _, c := range b.directives {
		switch c.directive.Target {
		case TargetArea:
			if strings.EqualFold(area, c.directive.Arg) {
				return c.rule, true
			}
		case TargetPath:
			if matchAny(c.directive.Arg, paths) {
				return c.rule, true
			}
		}
	}
	return Rule{}, false
}

func matchAny(glob string, paths []string) bool {
	for _, p := range paths {
		p = path.Clean(strings.TrimPrefix(p, "./"))
		if ok, _ := doublestar.Match(glob, p); ok {
			return true
		}
	}
	return false
}

// Store persists rules.
type Store interface {
	AppendRule(ctx context.Context, text string) (Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
}

// Load reads every rule from the store into a Book.
func Load(ctx context.Context, s Store) (*Book, error) {
	rs, err := s.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return NewBook(rs), nil
}

// Teach validates text, appends it to the store and returns the updated Book.
func Teach(ctx context.Context, s Store, text string) (Rule, *Book, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Rule{}, nil, fmt.Errorf("rule text is empty")
	}
	if _, _, err := ParseDirective(text); err != nil {
		return Rule{}, nil, err
	}

	r, err := s.AppendRule(ctx, text)
	if err != nil {
		return Rule{}, nil, fmt.Errorf("append rule: %w", err)
	}
	logging.Rules("taught rule #%d: %s", r.ID, r.Text)

	book, err := Load(ctx, s)
	if err != nil {
		return r, nil, err
	}
	return r, book, nil
}
