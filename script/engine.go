// Package script embeds the Lua runtime and bridges it to the core: events
// fan in to registered handlers, and the mudlark.* API turns script calls
// into commands for the app coordinator.
//
// The Lua state is single-threaded; every entry point runs on the
// coordinator loop, so scripts never race the sessions they manipulate.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	glua "github.com/yuin/gopher-lua"

	"github.com/drake/mudlark/command"
	"github.com/drake/mudlark/config"
	"github.com/drake/mudlark/event"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/session"
)

const regexCacheSize = 100

// Host is what the engine needs from the app coordinator. Dispatch queues a
// command for the coordinator loop; the read accessors answer synchronously
// because the engine already runs on that loop.
type Host interface {
	Dispatch(cmd command.Command)
	Session(id mud.SessionId) (*session.Session, error)
	Active() (mud.SessionId, bool)
	Config() *config.Config
	Version() string
}

// Engine owns the Lua VM, the handler registry, and the regex cache backing
// mudlark.regex_match.
type Engine struct {
	L    *glua.LState
	host Host

	regexCache *lru.Cache[string, *regexp.Regexp]
	handlers   map[event.Type][]handlerEntry
	wildcard   []handlerEntry

	table     *glua.LTable
	configDir string
	scripts   []string
}

// NewEngine creates an engine with no Lua state; call Init before use.
func NewEngine(host Host) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Engine{
		host:       host,
		regexCache: cache,
		handlers:   make(map[event.Type][]handlerEntry),
	}
}

// handlerEntry scopes a handler to one session, or to every session when
// Session is zero.
type handlerEntry struct {
	fn      *glua.LFunction
	session mud.SessionId
}

func (h handlerEntry) wants(ev event.Event) bool {
	return h.session == 0 || h.session == ev.Session
}

// Init creates a fresh Lua state, registers the mudlark API and runs the
// user's init.lua plus any extra scripts.
func (e *Engine) Init(configDir string, scripts []string) error {
	e.configDir = configDir
	e.scripts = scripts

	e.L = glua.NewState()
	e.handlers = make(map[event.Type][]handlerEntry)
	e.wildcard = nil

	e.registerAPI()

	initPath := filepath.Join(configDir, "init.lua")
	if _, err := os.Stat(initPath); err == nil {
		if err := e.L.DoFile(initPath); err != nil {
			return &mud.ScriptError{Context: "init.lua", Err: err}
		}
	}
	for _, path := range scripts {
		if err := e.L.DoFile(path); err != nil {
			return &mud.ScriptError{Context: path, Err: err}
		}
	}
	return nil
}

// LoadModule runs one additional script file (per-character modules).
func (e *Engine) LoadModule(path string) error {
	if err := e.L.DoFile(path); err != nil {
		return &mud.ScriptError{Context: path, Err: err}
	}
	return nil
}

// Close tears down the Lua state.
func (e *Engine) Close() {
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
}

// Reload calls the optional global __reload__ hook, discards the Lua state
// and registrations, and re-runs initialisation.
func (e *Engine) Reload() error {
	if e.L != nil {
		if hook, ok := e.L.GetGlobal("__reload__").(*glua.LFunction); ok {
			if err := e.call(hook, 0); err != nil {
				log.WithError(err).Warn("__reload__ hook failed")
			}
		}
		e.L.Close()
	}
	return e.Init(e.configDir, e.scripts)
}

// On registers a handler for an event type name; "all" is the wildcard.
// A non-zero session restricts the handler to that session's events.
func (e *Engine) On(name string, fn *glua.LFunction, session mud.SessionId) error {
	entry := handlerEntry{fn: fn, session: session}
	if name == "all" {
		e.wildcard = append(e.wildcard, entry)
		return nil
	}
	t, ok := event.TypeFromName(name)
	if !ok {
		return fmt.Errorf("unknown event type %q", name)
	}
	e.handlers[t] = append(e.handlers[t], entry)
	return nil
}

// Dispatch delivers an event to its handlers plus the wildcard handlers.
// Handler failures are collected; one failing handler never stops the rest.
func (e *Engine) Dispatch(ev event.Event) []error {
	fns := e.handlers[ev.Type]
	if len(fns) == 0 && len(e.wildcard) == 0 {
		return nil
	}

	payload := e.eventToLua(ev)
	var errs []error
	for _, entry := range fns {
		if !entry.wants(ev) {
			continue
		}
		if err := e.call(entry.fn, 0, payload); err != nil {
			errs = append(errs, &mud.ScriptError{Context: ev.Type.String() + " handler", Err: err})
		}
	}
	for _, entry := range e.wildcard {
		if !entry.wants(ev) {
			continue
		}
		if err := e.call(entry.fn, 0, payload); err != nil {
			errs = append(errs, &mud.ScriptError{Context: "wildcard handler", Err: err})
		}
	}
	return errs
}

// call invokes a Lua function in protected mode, leaving nret values on the
// stack for the caller to consume.
func (e *Engine) call(fn *glua.LFunction, nret int, args ...glua.LValue) error {
	return e.L.CallByParam(glua.P{Fn: fn, NRet: nret, Protect: true}, args...)
}

// compile fetches a cached regex or compiles and caches it.
func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexCache.Add(pattern, re)
	return re, nil
}

// --- Lua value construction ---

func (e *Engine) eventToLua(ev event.Event) *glua.LTable {
	tbl := e.L.NewTable()
	tbl.RawSetString("type", glua.LString(ev.Type.String()))
	if ev.Session != 0 {
		tbl.RawSetString("session", glua.LNumber(ev.Session))
	}

	switch p := ev.Payload.(type) {
	case event.ConnectedPayload:
		info := e.L.NewTable()
		info.RawSetString("ip", glua.LString(p.Info.IP))
		info.RawSetString("port", glua.LNumber(p.Info.Port))
		info.RawSetString("tls", glua.LBool(p.Info.Tls))
		info.RawSetString("verify_skipped", glua.LBool(p.Info.VerifySkipped))
		tbl.RawSetString("info", info)
	case event.ActivePayload:
		if p.From != nil {
			tbl.RawSetString("from", glua.LNumber(*p.From))
		}
		if p.To != nil {
			tbl.RawSetString("to", glua.LNumber(*p.To))
		}
	case event.LinePayload:
		tbl.RawSetString("line", e.lineToLua(p.Line))
	case event.InputPayload:
		tbl.RawSetString("input", e.inputToLua(p.Line))
	case event.InputChangedPayload:
		tbl.RawSetString("text", glua.LString(p.Text))
		tbl.RawSetString("cursor", glua.LNumber(p.Cursor))
	case event.ChangePayload:
		tbl.RawSetString("from", glua.LString(p.From))
		tbl.RawSetString("to", glua.LString(p.To))
	case event.OptionPayload:
		tbl.RawSetString("option", glua.LNumber(p.Option))
	case event.IacPayload:
		tbl.RawSetString("command", glua.LNumber(p.Command))
	case event.SubnegotiationPayload:
		tbl.RawSetString("option", glua.LNumber(p.Option))
		tbl.RawSetString("data", glua.LString(p.Data))
	case event.GmcpPayload:
		tbl.RawSetString("package", glua.LString(p.Package))
		tbl.RawSetString("json", glua.LString(p.JSON))
	case event.BufferResizedPayload:
		tbl.RawSetString("name", glua.LString(p.Name))
		tbl.RawSetString("from", glua.LNumber(p.From))
		tbl.RawSetString("to", glua.LNumber(p.To))
	case event.TabClosedPayload:
		tbl.RawSetString("title", glua.LString(p.Title))
		tbl.RawSetString("id", glua.LNumber(p.ID))
	}
	return tbl
}

func (e *Engine) lineToLua(line mud.MudLine) *glua.LTable {
	tbl := e.L.NewTable()
	tbl.RawSetString("raw", glua.LString(line.Raw))
	tbl.RawSetString("text", glua.LString(line.Stripped()))
	tbl.RawSetString("prompt", glua.LBool(line.Prompt))
	tbl.RawSetString("gag", glua.LBool(line.Gag))
	return tbl
}

func (e *Engine) inputToLua(line mud.InputLine) *glua.LTable {
	tbl := e.L.NewTable()
	tbl.RawSetString("sent", glua.LString(line.Sent))
	tbl.RawSetString("original", glua.LString(line.OriginalText()))
	tbl.RawSetString("scripted", glua.LBool(line.Scripted))
	tbl.RawSetString("password", glua.LBool(line.Echo == mud.EchoPassword))
	return tbl
}

func (e *Engine) groupsToLua(groups []string) *glua.LTable {
	tbl := e.L.NewTable()
	for i, g := range groups {
		tbl.RawSetInt(i+1, glua.LString(g))
	}
	return tbl
}
