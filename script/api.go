package script

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	glua "github.com/yuin/gopher-lua"

	"github.com/drake/mudlark/command"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/session"
)

// registerAPI installs the mudlark global table.
func (e *Engine) registerAPI() {
	e.table = e.L.NewTable()
	e.L.SetGlobal("mudlark", e.table)

	e.table.RawSetString("config_dir", glua.LString(e.configDir))
	e.table.RawSetString("version", glua.LString(e.host.Version()))

	fns := map[string]glua.LGFunction{
		"log":             e.apiLog,
		"on":              e.apiOn,
		"quit":            e.apiQuit,
		"config":          e.apiConfig,
		"bind":            e.apiBind,
		"regex_match":     e.apiRegexMatch,
		"new_session":     e.apiNewSession,
		"active":          e.apiActive,
		"set_active":      e.apiSetActive,
		"connect":         e.apiConnect,
		"disconnect":      e.apiDisconnect,
		"close":           e.apiClose,
		"send":            e.apiSend,
		"output":          e.apiOutput,
		"input":           e.apiInput,
		"set_input":       e.apiSetInput,
		"prompt":          e.apiPrompt,
		"set_prompt":      e.apiSetPrompt,
		"set_prompt_mode": e.apiSetPromptMode,
		"request_option":  e.apiRequestOption,
		"send_subneg":     e.apiSendSubneg,
		"gmcp_register":   e.apiGmcpRegister,
		"gmcp_unregister": e.apiGmcpUnregister,
		"gmcp_send":       e.apiGmcpSend,
		"add_trigger":     e.apiAddTrigger,
		"remove_trigger":  e.apiRemoveTrigger,
		"enable_trigger":  e.apiEnableTrigger,
		"disable_trigger": e.apiDisableTrigger,
		"add_alias":       e.apiAddAlias,
		"remove_alias":    e.apiRemoveAlias,
		"enable_alias":    e.apiEnableAlias,
		"disable_alias":   e.apiDisableAlias,
		"add_timer":       e.apiAddTimer,
		"remove_timer":    e.apiRemoveTimer,
		"start_timer":     e.apiStartTimer,
		"stop_timer":      e.apiStopTimer,
		"create_buffer":   e.apiCreateBuffer,
		"remove_buffer":   e.apiRemoveBuffer,

		"add_slash_command":    e.apiAddSlashCommand,
		"remove_slash_command": e.apiRemoveSlashCommand,
		"reload":               e.apiReload,
	}
	for name, fn := range fns {
		e.table.RawSetString(name, e.L.NewFunction(fn))
	}
}

// pushResult pushes the Lua (ok, err) pair for a write operation.
func pushResult(L *glua.LState, err error) int {
	if err != nil {
		L.Push(glua.LFalse)
		L.Push(glua.LString(err.Error()))
		return 2
	}
	L.Push(glua.LTrue)
	return 1
}

func sessionArg(L *glua.LState) mud.SessionId {
	return mud.SessionId(L.CheckInt(1))
}

// --- App-level ---

func (e *Engine) apiLog(L *glua.LState) int {
	log.WithField("source", "lua").Info(L.CheckString(1))
	return 0
}

// apiOn registers an event handler. An optional third argument restricts
// the handler to a single session's events.
func (e *Engine) apiOn(L *glua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	session := mud.SessionId(L.OptInt(3, 0))
	return pushResult(L, e.On(name, fn, session))
}

func (e *Engine) apiQuit(L *glua.LState) int {
	e.host.Dispatch(command.Quit{})
	return 0
}

func (e *Engine) apiBind(L *glua.LState) int {
	e.host.Dispatch(command.SetGlobalShortcut{
		Key:    L.CheckString(1),
		Action: L.CheckString(2),
	})
	return 0
}

func (e *Engine) apiConfig(L *glua.LState) int {
	cfg := e.host.Config()
	tbl := L.NewTable()

	settings := L.NewTable()
	settings.RawSetString("command_separator", glua.LString(cfg.Settings.CommandSeparator))
	settings.RawSetString("log_level", glua.LString(cfg.Settings.LogLevel))
	settings.RawSetString("frame_rate", glua.LNumber(cfg.Settings.FrameRate))
	tbl.RawSetString("settings", settings)

	muds := L.NewTable()
	for i, m := range cfg.Muds {
		entry := L.NewTable()
		entry.RawSetString("name", glua.LString(m.Name))
		entry.RawSetString("host", glua.LString(m.Host))
		entry.RawSetString("port", glua.LNumber(m.Port))
		entry.RawSetString("tls", glua.LString(m.Tls.String()))
		muds.RawSetInt(i+1, entry)
	}
	tbl.RawSetString("muds", muds)

	chars := L.NewTable()
	for i, ch := range cfg.Characters {
		entry := L.NewTable()
		entry.RawSetString("name", glua.LString(ch.Name))
		entry.RawSetString("mud", glua.LString(ch.Mud))
		chars.RawSetInt(i+1, entry)
	}
	tbl.RawSetString("characters", chars)

	L.Push(tbl)
	return 1
}

// apiRegexMatch matches a cached pattern against text, returning the match
// groups (full match first) or nil.
func (e *Engine) apiRegexMatch(L *glua.LState) int {
	pattern := L.CheckString(1)
	text := L.CheckString(2)

	re, err := e.compile(pattern)
	if err != nil {
		L.Push(glua.LNil)
		L.Push(glua.LString(err.Error()))
		return 2
	}
	matches := re.FindStringSubmatch(text)
	if matches == nil {
		L.Push(glua.LNil)
		return 1
	}
	tbl := L.NewTable()
	for i, m := range matches {
		tbl.RawSetInt(i+1, glua.LString(m))
	}
	L.Push(tbl)
	return 1
}

// --- Session lifecycle ---

func (e *Engine) apiNewSession(L *glua.LState) int {
	e.host.Dispatch(command.NewSession{
		Character: L.CheckString(1),
		Connect:   L.OptBool(2, true),
	})
	return 0
}

func (e *Engine) apiActive(L *glua.LState) int {
	id, ok := e.host.Active()
	if !ok {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(glua.LNumber(id))
	return 1
}

func (e *Engine) apiSetActive(L *glua.LState) int {
	e.host.Dispatch(command.SetActiveSession{Session: sessionArg(L)})
	return 0
}

func (e *Engine) apiConnect(L *glua.LState) int {
	e.host.Dispatch(command.Connect{Session: sessionArg(L)})
	return 0
}

func (e *Engine) apiDisconnect(L *glua.LState) int {
	e.host.Dispatch(command.Disconnect{Session: sessionArg(L)})
	return 0
}

func (e *Engine) apiClose(L *glua.LState) int {
	e.host.Dispatch(command.CloseSession{Session: sessionArg(L)})
	return 0
}

// --- Input/output ---

func (e *Engine) apiSend(L *glua.LState) int {
	e.host.Dispatch(command.SendLine{
		Session:     sessionArg(L),
		Text:        L.CheckString(2),
		SkipAliases: L.OptBool(3, false),
		Scripted:    true,
	})
	return 0
}

func (e *Engine) apiOutput(L *glua.LState) int {
	e.host.Dispatch(command.Output{
		Session: sessionArg(L),
		Item:    session.DebugItem(L.CheckString(2)),
	})
	return 0
}

func (e *Engine) apiInput(L *glua.LState) int {
	sess, err := e.host.Session(sessionArg(L))
	if err != nil {
		L.Push(glua.LNil)
		L.Push(glua.LString(err.Error()))
		return 2
	}
	L.Push(glua.LString(sess.Input().Value()))
	L.Push(glua.LNumber(sess.Input().Cursor()))
	return 2
}

func (e *Engine) apiSetInput(L *glua.LState) int {
	e.host.Dispatch(command.SetInput{
		Session: sessionArg(L),
		Text:    L.CheckString(2),
		Cursor:  L.OptInt(3, -1),
	})
	return 0
}

// --- Prompt ---

func (e *Engine) apiPrompt(L *glua.LState) int {
	sess, err := e.host.Session(sessionArg(L))
	if err != nil {
		L.Push(glua.LNil)
		L.Push(glua.LString(err.Error()))
		return 2
	}
	L.Push(glua.LString(sess.Prompt().Content()))
	return 1
}

func (e *Engine) apiSetPrompt(L *glua.LState) int {
	e.host.Dispatch(command.SetPrompt{Session: sessionArg(L), Text: L.CheckString(2)})
	return 0
}

// apiSetPromptMode accepts ("unsignalled", timeout_ms) or
// ("signalled", "eor"|"ga").
func (e *Engine) apiSetPromptMode(L *glua.LState) int {
	id := sessionArg(L)
	kind := L.CheckString(2)

	var mode session.PromptMode
	switch kind {
	case "unsignalled":
		millis := L.OptInt(3, int(session.DefaultPromptTimeout/time.Millisecond))
		mode = session.UnsignalledMode(time.Duration(millis) * time.Millisecond)
	case "signalled":
		signal := session.SignalEndOfRecord
		if L.OptString(3, "eor") == "ga" {
			signal = session.SignalGoAhead
		}
		mode = session.SignalledMode(signal)
	default:
		L.Push(glua.LFalse)
		L.Push(glua.LString("prompt mode must be \"unsignalled\" or \"signalled\""))
		return 2
	}

	e.host.Dispatch(command.SetPromptMode{Session: id, Mode: mode})
	L.Push(glua.LTrue)
	return 1
}

// --- Telnet / GMCP ---

func (e *Engine) apiRequestOption(L *glua.LState) int {
	e.host.Dispatch(command.RequestOption{
		Session: sessionArg(L),
		Option:  byte(L.CheckInt(2)),
		Enable:  L.OptBool(3, true),
	})
	return 0
}

func (e *Engine) apiSendSubneg(L *glua.LState) int {
	e.host.Dispatch(command.SendSubnegotiation{
		Session: sessionArg(L),
		Option:  byte(L.CheckInt(2)),
		Data:    []byte(L.CheckString(3)),
	})
	return 0
}

func (e *Engine) apiGmcpRegister(L *glua.LState) int {
	e.host.Dispatch(command.GmcpRegister{Session: sessionArg(L), Package: L.CheckString(2)})
	return 0
}

func (e *Engine) apiGmcpUnregister(L *glua.LState) int {
	e.host.Dispatch(command.GmcpUnregister{Session: sessionArg(L), Package: L.CheckString(2)})
	return 0
}

func (e *Engine) apiGmcpSend(L *glua.LState) int {
	e.host.Dispatch(command.GmcpSend{
		Session: sessionArg(L),
		Package: L.CheckString(2),
		JSON:    L.OptString(3, ""),
	})
	return 0
}

// --- Triggers ---

// apiAddTrigger builds a trigger from a definition table:
//
//	mudlark.add_trigger(sid, {
//	  name = "loot", pattern = "^You loot (\\d+) gold",
//	  gag = true, strip_ansi = true, prompt_only = false,
//	  highlight = function(line, groups) return line end,
//	  callback = function(line, groups) ... end,
//	  reaction = "get all corpse",
//	})
func (e *Engine) apiAddTrigger(L *glua.LState) int {
	id := sessionArg(L)
	def := L.CheckTable(2)

	tr, err := session.NewTrigger(stringField(def, "name"), stringField(def, "pattern"))
	if err != nil {
		return pushResult(L, err)
	}
	tr.Enabled = boolFieldDefault(def, "enabled", true)
	tr.StripANSI = boolField(def, "strip_ansi")
	tr.PromptOnly = boolField(def, "prompt_only")
	tr.Gag = boolField(def, "gag")
	tr.Reaction = stringField(def, "reaction")

	if fn, ok := def.RawGetString("highlight").(*glua.LFunction); ok {
		tr.Highlight = e.highlightFunc(fn)
	}
	if fn, ok := def.RawGetString("callback").(*glua.LFunction); ok {
		tr.Callback = e.triggerFunc(fn)
	}

	e.host.Dispatch(command.AddTrigger{Session: id, Trigger: tr})
	return pushResult(L, nil)
}

// highlightFunc wraps a Lua highlight: called synchronously, its string
// return replaces the line. Errors keep the original line.
func (e *Engine) highlightFunc(fn *glua.LFunction) session.HighlightFunc {
	return func(line mud.MudLine, groups []string) mud.MudLine {
		if err := e.call(fn, 1, e.lineToLua(line), e.groupsToLua(groups)); err != nil {
			log.WithError(err).Warn("highlight failed")
			return line
		}
		ret := e.L.Get(-1)
		e.L.Pop(1)
		if s, ok := ret.(glua.LString); ok {
			return mud.MudLine{Raw: []byte(s), Prompt: line.Prompt, Gag: line.Gag}
		}
		return line
	}
}

func (e *Engine) triggerFunc(fn *glua.LFunction) session.TriggerFunc {
	return func(line mud.MudLine, groups []string) error {
		return e.call(fn, 0, e.lineToLua(line), e.groupsToLua(groups))
	}
}

func (e *Engine) apiRemoveTrigger(L *glua.LState) int {
	e.host.Dispatch(command.RemoveTrigger{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

func (e *Engine) apiEnableTrigger(L *glua.LState) int {
	e.host.Dispatch(command.SetTriggerEnabled{Session: sessionArg(L), Name: L.CheckString(2), Enabled: true})
	return 0
}

func (e *Engine) apiDisableTrigger(L *glua.LState) int {
	e.host.Dispatch(command.SetTriggerEnabled{Session: sessionArg(L), Name: L.CheckString(2), Enabled: false})
	return 0
}

// --- Aliases ---

func (e *Engine) apiAddAlias(L *glua.LState) int {
	id := sessionArg(L)
	def := L.CheckTable(2)

	a, err := session.NewAlias(stringField(def, "name"), stringField(def, "pattern"))
	if err != nil {
		return pushResult(L, err)
	}
	a.Enabled = boolFieldDefault(def, "enabled", true)
	if expansion := def.RawGetString("expansion"); expansion != glua.LNil {
		a.SetExpansion(glua.LVAsString(expansion))
	}
	if fn, ok := def.RawGetString("callback").(*glua.LFunction); ok {
		a.Callback = e.aliasFunc(fn)
	}

	e.host.Dispatch(command.AddAlias{Session: id, Alias: a})
	return pushResult(L, nil)
}

func (e *Engine) aliasFunc(fn *glua.LFunction) session.AliasFunc {
	return func(input mud.InputLine, groups []string) error {
		return e.call(fn, 0, e.inputToLua(input), e.groupsToLua(groups))
	}
}

func (e *Engine) apiRemoveAlias(L *glua.LState) int {
	e.host.Dispatch(command.RemoveAlias{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

func (e *Engine) apiEnableAlias(L *glua.LState) int {
	e.host.Dispatch(command.SetAliasEnabled{Session: sessionArg(L), Name: L.CheckString(2), Enabled: true})
	return 0
}

func (e *Engine) apiDisableAlias(L *glua.LState) int {
	e.host.Dispatch(command.SetAliasEnabled{Session: sessionArg(L), Name: L.CheckString(2), Enabled: false})
	return 0
}

// --- Timers ---

// apiAddTimer builds a timer from a definition table:
//
//	mudlark.add_timer(sid, {
//	  name = "autosave", seconds = 60, reaction = "save",
//	  max_ticks = 0, callback = function() ... end,
//	})
func (e *Engine) apiAddTimer(L *glua.LState) int {
	id := sessionArg(L)
	def := L.CheckTable(2)

	seconds := numberField(def, "seconds")
	if millis := numberField(def, "millis"); millis > 0 {
		seconds = millis / 1000
	}
	if seconds <= 0 {
		return pushResult(L, fmt.Errorf("timer needs a positive duration"))
	}

	t := session.NewTimer(stringField(def, "name"), time.Duration(seconds*float64(time.Second)))
	t.Reaction = stringField(def, "reaction")
	t.MaxTicks = uint64(numberField(def, "max_ticks"))
	if fn, ok := def.RawGetString("callback").(*glua.LFunction); ok {
		t.Callback = func() error { return e.call(fn, 0) }
	}

	e.host.Dispatch(command.AddTimer{
		Session: id,
		Timer:   t,
		Start:   boolFieldDefault(def, "start", true),
	})
	return pushResult(L, nil)
}

func (e *Engine) apiRemoveTimer(L *glua.LState) int {
	e.host.Dispatch(command.RemoveTimer{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

func (e *Engine) apiStartTimer(L *glua.LState) int {
	e.host.Dispatch(command.StartTimer{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

func (e *Engine) apiStopTimer(L *glua.LState) int {
	e.host.Dispatch(command.StopTimer{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

// --- Buffers ---

func (e *Engine) apiCreateBuffer(L *glua.LState) int {
	e.host.Dispatch(command.CreateBuffer{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

func (e *Engine) apiRemoveBuffer(L *glua.LState) int {
	e.host.Dispatch(command.RemoveBuffer{Session: sessionArg(L), Name: L.CheckString(2)})
	return 0
}

// --- Slash commands / reload ---

func (e *Engine) apiAddSlashCommand(L *glua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.host.Dispatch(command.SetSlashCommand{
		Name: name,
		Fn: func(id mud.SessionId, args string) error {
			return e.call(fn, 0, glua.LNumber(id), glua.LString(args))
		},
	})
	return 0
}

func (e *Engine) apiRemoveSlashCommand(L *glua.LState) int {
	e.host.Dispatch(command.RemoveSlashCommand{Name: L.CheckString(1)})
	return 0
}

func (e *Engine) apiReload(L *glua.LState) int {
	e.host.Dispatch(command.ReloadScripts{})
	return 0
}

// --- Table field helpers ---

func stringField(tbl *glua.LTable, key string) string {
	return glua.LVAsString(tbl.RawGetString(key))
}

func boolField(tbl *glua.LTable, key string) bool {
	return glua.LVAsBool(tbl.RawGetString(key))
}

func boolFieldDefault(tbl *glua.LTable, key string, def bool) bool {
	v := tbl.RawGetString(key)
	if v == glua.LNil {
		return def
	}
	return glua.LVAsBool(v)
}

func numberField(tbl *glua.LTable, key string) float64 {
	return float64(glua.LVAsNumber(tbl.RawGetString(key)))
}
