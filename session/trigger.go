package session

import (
	"fmt"
	"regexp"

	"github.com/drake/mudlark/mud"
)

// HighlightFunc rewrites a matched line. It runs synchronously during
// trigger evaluation; the returned line replaces the original in place, so
// later triggers see the rewritten text.
type HighlightFunc func(line mud.MudLine, groups []string) mud.MudLine

// TriggerFunc is a scripted trigger callback. It is scheduled after
// evaluation and runs on the coordinator loop; errors are reported to the
// user but never stop later evaluation.
type TriggerFunc func(line mud.MudLine, groups []string) error

// AliasFunc is a scripted alias callback.
type AliasFunc func(input mud.InputLine, groups []string) error

// Trigger is a regex rule applied to received lines.
type Trigger struct {
	Name    string
	Enabled bool
	Pattern *regexp.Regexp

	// StripANSI matches against the ANSI-stripped line text.
	StripANSI bool
	// PromptOnly restricts matching to prompt lines.
	PromptOnly bool
	// Gag suppresses display of matched lines.
	Gag bool

	Highlight HighlightFunc
	Callback  TriggerFunc
	// Reaction is sent to the session as a scripted input line after all
	// triggers finish evaluating.
	Reaction string

	HitCount uint64
}

// NewTrigger compiles a trigger. The pattern must be a valid regular
// expression; triggers start enabled.
func NewTrigger(name, pattern string) (*Trigger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("trigger %q: %w", name, err)
	}
	return &Trigger{Name: name, Enabled: true, Pattern: re}, nil
}

// Alias is a regex rule applied to outgoing input before transmission.
type Alias struct {
	Name    string
	Enabled bool
	Pattern *regexp.Regexp

	Callback AliasFunc
	// Expansion statically replaces the matched input text when
	// HasExpansion is set. If the replacement leaves the text empty, the
	// input is eaten: nothing is transmitted and later aliases don't run.
	Expansion    string
	HasExpansion bool

	HitCount uint64
}

// SetExpansion configures the alias's static replacement.
func (a *Alias) SetExpansion(expansion string) {
	a.Expansion = expansion
	a.HasExpansion = true
}

// NewAlias compiles an alias. Aliases start enabled.
func NewAlias(name, pattern string) (*Alias, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("alias %q: %w", name, err)
	}
	return &Alias{Name: name, Enabled: true, Pattern: re}, nil
}

// TriggerResult carries the deferred effects of one evaluation pass.
type TriggerResult struct {
	// Reactions are sent as scripted input lines after evaluation.
	Reactions []string
	// Callbacks are scheduled onto the coordinator loop.
	Callbacks []func() error
}

// Triggers is a session's ordered trigger list. Names are unique.
type Triggers struct {
	list []*Trigger
}

// Add appends a trigger, rejecting duplicate names.
func (ts *Triggers) Add(t *Trigger) error {
	if ts.Get(t.Name) != nil {
		return fmt.Errorf("trigger %q: %w", t.Name, mud.ErrDuplicateName)
	}
	ts.list = append(ts.list, t)
	return nil
}

// Remove deletes a trigger by name. The removed trigger is returned so
// script handles stay valid after removal.
func (ts *Triggers) Remove(name string) *Trigger {
	for i, t := range ts.list {
		if t.Name == name {
			ts.list = append(ts.list[:i], ts.list[i+1:]...)
			return t
		}
	}
	return nil
}

// Get returns the named trigger, or nil.
func (ts *Triggers) Get(name string) *Trigger {
	for _, t := range ts.list {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// List returns the triggers in insertion order.
func (ts *Triggers) List() []*Trigger {
	return ts.list
}

// Clear removes all triggers.
func (ts *Triggers) Clear() {
	ts.list = nil
}

// Evaluate runs every enabled trigger against the line in insertion order,
// mutating it in place (gag flag, highlight rewrites). The returned result
// holds reactions to send and callbacks to schedule once evaluation is
// complete, so trigger mutation never aliases with callback execution.
func (ts *Triggers) Evaluate(line *mud.MudLine) TriggerResult {
	var result TriggerResult
	for _, t := range ts.list {
		if !t.Enabled {
			continue
		}
		if t.PromptOnly && !line.Prompt {
			continue
		}

		haystack := line.String()
		if t.StripANSI {
			haystack = line.Stripped()
		}
		match := t.Pattern.FindStringSubmatch(haystack)
		if match == nil {
			continue
		}
		groups := match[1:]

		t.HitCount++
		if t.Gag {
			line.Gag = true
		}
		if t.Highlight != nil {
			*line = t.Highlight(*line, groups)
		}
		if t.Callback != nil {
			cb := t.Callback
			snapshot := *line
			result.Callbacks = append(result.Callbacks, func() error {
				return cb(snapshot, groups)
			})
		}
		if t.Reaction != "" {
			result.Reactions = append(result.Reactions, t.Reaction)
		}
	}
	return result
}

// AliasResult carries the outcome of evaluating aliases against one
// outgoing command fragment.
type AliasResult struct {
	// Text is the rewritten outgoing text.
	Text string
	// Consumed is true when an alias ate the input: nothing is transmitted,
	// but the InputLine event still fires with the original text.
	Consumed bool
	Callbacks []func() error
}

// Aliases is a session's ordered alias list. Names are unique.
type Aliases struct {
	list []*Alias
}

// Add appends an alias, rejecting duplicate names.
func (as *Aliases) Add(a *Alias) error {
	if as.Get(a.Name) != nil {
		return fmt.Errorf("alias %q: %w", a.Name, mud.ErrDuplicateName)
	}
	as.list = append(as.list, a)
	return nil
}

// Remove deletes an alias by name, returning the removed alias.
func (as *Aliases) Remove(name string) *Alias {
	for i, a := range as.list {
		if a.Name == name {
			as.list = append(as.list[:i], as.list[i+1:]...)
			return a
		}
	}
	return nil
}

// Get returns the named alias, or nil.
func (as *Aliases) Get(name string) *Alias {
	for _, a := range as.list {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// List returns the aliases in insertion order.
func (as *Aliases) List() []*Alias {
	return as.list
}

// Clear removes all aliases.
func (as *Aliases) Clear() {
	as.list = nil
}

// Evaluate runs every enabled alias against the outgoing text in insertion
// order. An expansion replaces the text seen by later aliases. If the text
// becomes empty after an alias matched non-empty input, evaluation stops
// and the input is considered consumed.
func (as *Aliases) Evaluate(text string) AliasResult {
	result := AliasResult{Text: text}
	for _, a := range as.list {
		if !a.Enabled {
			continue
		}
		match := a.Pattern.FindStringSubmatch(result.Text)
		if match == nil {
			continue
		}
		groups := match[1:]

		a.HitCount++
		if a.Callback != nil {
			cb := a.Callback
			input := mud.InputLine{Sent: result.Text, Original: text}
			result.Callbacks = append(result.Callbacks, func() error {
				return cb(input, groups)
			})
		}
		if a.HasExpansion {
			result.Text = a.Pattern.ReplaceAllString(result.Text, a.Expansion)
		}
		if result.Text == "" && text != "" {
			result.Consumed = true
			return result
		}
	}
	return result
}
