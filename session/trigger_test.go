package session

import (
	"errors"
	"reflect"
	"testing"

	"github.com/drake/mudlark/mud"
)

func mustTrigger(t *testing.T, name, pattern string) *Trigger {
	t.Helper()
	tr, err := NewTrigger(name, pattern)
	if err != nil {
		t.Fatalf("compile %q: %v", pattern, err)
	}
	return tr
}

func mustAlias(t *testing.T, name, pattern string) *Alias {
	t.Helper()
	a, err := NewAlias(name, pattern)
	if err != nil {
		t.Fatalf("compile %q: %v", pattern, err)
	}
	return a
}

func TestTriggerMatchAndGag(t *testing.T) {
	ts := &Triggers{}
	tr := mustTrigger(t, "see", `^You see (\w+)\.$`)
	tr.Gag = true

	var gotGroups []string
	tr.Callback = func(line mud.MudLine, groups []string) error {
		gotGroups = groups
		return nil
	}
	if err := ts.Add(tr); err != nil {
		t.Fatal(err)
	}

	line := mud.NewMudLine([]byte("You see elf."))
	result := ts.Evaluate(&line)

	if tr.HitCount != 1 {
		t.Fatalf("hit count %d", tr.HitCount)
	}
	if !line.Gag {
		t.Fatal("line should be gagged")
	}
	if len(result.Callbacks) != 1 {
		t.Fatalf("callbacks %d", len(result.Callbacks))
	}
	result.Callbacks[0]()
	if !reflect.DeepEqual(gotGroups, []string{"elf"}) {
		t.Fatalf("groups %v", gotGroups)
	}
}

func TestTriggerDuplicateNameRejected(t *testing.T) {
	ts := &Triggers{}
	if err := ts.Add(mustTrigger(t, "dup", "a")); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(mustTrigger(t, "dup", "b")); !errors.Is(err, mud.ErrDuplicateName) {
		t.Fatalf("want ErrDuplicateName, got %v", err)
	}
}

func TestTriggerInsertionOrderAndHighlight(t *testing.T) {
	ts := &Triggers{}

	first := mustTrigger(t, "first", "gold")
	first.Highlight = func(line mud.MudLine, groups []string) mud.MudLine {
		return mud.MudLine{Raw: []byte("GOLD!"), Prompt: line.Prompt, Gag: line.Gag}
	}
	ts.Add(first)

	// The second trigger sees the rewritten line, not the original.
	second := mustTrigger(t, "second", "^GOLD!$")
	ts.Add(second)

	line := mud.NewMudLine([]byte("a pile of gold"))
	ts.Evaluate(&line)

	if string(line.Raw) != "GOLD!" {
		t.Fatalf("line %q", line.Raw)
	}
	if first.HitCount != 1 || second.HitCount != 1 {
		t.Fatalf("hits %d %d", first.HitCount, second.HitCount)
	}
}

func TestTriggerDeterministicHits(t *testing.T) {
	run := func() []uint64 {
		ts := &Triggers{}
		a := mustTrigger(t, "a", "or")
		b := mustTrigger(t, "b", "orc")
		c := mustTrigger(t, "c", "xyzzy")
		ts.Add(a)
		ts.Add(b)
		ts.Add(c)
		for i := 0; i < 3; i++ {
			line := mud.NewMudLine([]byte("an orc arrives"))
			ts.Evaluate(&line)
		}
		return []uint64{a.HitCount, b.HitCount, c.HitCount}
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("hit counts not reproducible: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(first, []uint64{3, 3, 0}) {
		t.Fatalf("hit counts %v", first)
	}
}

func TestTriggerPromptOnly(t *testing.T) {
	ts := &Triggers{}
	tr := mustTrigger(t, "hp", `^HP: (\d+)`)
	tr.PromptOnly = true
	ts.Add(tr)

	line := mud.NewMudLine([]byte("HP: 100"))
	ts.Evaluate(&line)
	if tr.HitCount != 0 {
		t.Fatal("non-prompt line should not match a prompt-only trigger")
	}

	prompt := mud.PromptLine([]byte("HP: 100"))
	ts.Evaluate(&prompt)
	if tr.HitCount != 1 {
		t.Fatalf("hit count %d", tr.HitCount)
	}
}

func TestTriggerStripAnsi(t *testing.T) {
	ts := &Triggers{}
	tr := mustTrigger(t, "strip", `^You see elf\.$`)
	tr.StripANSI = true
	ts.Add(tr)

	line := mud.NewMudLine([]byte("\x1b[31mYou see elf.\x1b[0m"))
	ts.Evaluate(&line)
	if tr.HitCount != 1 {
		t.Fatal("stripped haystack should match")
	}
}

func TestTriggerDisabledSkipped(t *testing.T) {
	ts := &Triggers{}
	tr := mustTrigger(t, "off", ".")
	tr.Enabled = false
	ts.Add(tr)

	line := mud.NewMudLine([]byte("anything"))
	ts.Evaluate(&line)
	if tr.HitCount != 0 {
		t.Fatal("disabled trigger should not run")
	}
}

func TestTriggerReactionCollected(t *testing.T) {
	ts := &Triggers{}
	tr := mustTrigger(t, "greet", "^The guard nods")
	tr.Reaction = "nod guard"
	ts.Add(tr)

	line := mud.NewMudLine([]byte("The guard nods at you."))
	result := ts.Evaluate(&line)
	if !reflect.DeepEqual(result.Reactions, []string{"nod guard"}) {
		t.Fatalf("reactions %v", result.Reactions)
	}
}

func TestAliasExpansion(t *testing.T) {
	as := &Aliases{}
	a := mustAlias(t, "kick", `^k\b`)
	a.SetExpansion("kick")
	as.Add(a)

	result := as.Evaluate("k orc")
	if result.Text != "kick orc" || result.Consumed {
		t.Fatalf("got %+v", result)
	}
	if a.HitCount != 1 {
		t.Fatalf("hit count %d", a.HitCount)
	}
}

func TestAliasAteInput(t *testing.T) {
	as := &Aliases{}
	eater := mustAlias(t, "eat", `^note .*$`)
	eater.SetExpansion("")
	var sawInput string
	eater.Callback = func(input mud.InputLine, groups []string) error {
		sawInput = input.Sent
		return nil
	}
	as.Add(eater)

	// A later alias must not run once the input is consumed.
	later := mustAlias(t, "later", "note")
	as.Add(later)

	result := as.Evaluate("note buy a sword")
	if !result.Consumed {
		t.Fatal("input should be consumed")
	}
	if later.HitCount != 0 {
		t.Fatal("later alias should not have run")
	}
	for _, cb := range result.Callbacks {
		cb()
	}
	if sawInput != "note buy a sword" {
		t.Fatalf("callback saw %q", sawInput)
	}
}

func TestAliasChainedExpansion(t *testing.T) {
	as := &Aliases{}
	a := mustAlias(t, "a", `^greet$`)
	a.SetExpansion("say hello")
	as.Add(a)
	b := mustAlias(t, "b", `^say (.*)$`)
	b.SetExpansion("tell all $1")
	as.Add(b)

	result := as.Evaluate("greet")
	if result.Text != "tell all hello" {
		t.Fatalf("got %q", result.Text)
	}
}
