// Package app is the coordinator: it owns the session registry, drains the
// command and connection-event channels on a single loop, fans events out
// to script handlers, and hot-reloads configuration and scripts.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/drake/mudlark/command"
	"github.com/drake/mudlark/config"
	"github.com/drake/mudlark/event"
	ibuffer "github.com/drake/mudlark/internal/buffer"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/network"
	"github.com/drake/mudlark/script"
	"github.com/drake/mudlark/session"
	"github.com/drake/mudlark/ui"
)

const (
	queueInitial = 256
	queueLimit   = 50000
)

// App is the coordinator. All state is owned by the Run loop; external
// goroutines talk to it exclusively through channels.
type App struct {
	version string
	cfgPath string
	cfg     *config.Config
	scripts []string

	sessions   map[mud.SessionId]*session.Session
	characters map[mud.SessionId]string
	order      []mud.SessionId
	nextID     mud.SessionId
	active     mud.SessionId // 0 = none

	cmdIn  chan<- command.Command
	cmdOut <-chan command.Command
	netIn  chan<- network.Event
	netOut <-chan network.Event
	cbIn   chan<- func() error
	cbOut  <-chan func() error
	reload chan struct{}

	slash     map[string]func(mud.SessionId, string) error
	shortcuts map[string]string

	engine  *script.Engine
	ui      ui.UI
	watcher *config.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	quitOnce sync.Once
}

// New creates an app around a loaded configuration.
func New(cfg *config.Config, cfgPath string, u ui.UI, version string, scripts []string) *App {
	a := &App{
		version:    version,
		cfgPath:    cfgPath,
		cfg:        cfg,
		scripts:    scripts,
		sessions:   make(map[mud.SessionId]*session.Session),
		characters: make(map[mud.SessionId]string),
		slash:      make(map[string]func(mud.SessionId, string) error),
		shortcuts:  make(map[string]string),
		reload:     make(chan struct{}, 1),
		ui:         u,
	}
	a.cmdIn, a.cmdOut = ibuffer.Unbounded[command.Command](queueInitial, queueLimit)
	a.netIn, a.netOut = ibuffer.Unbounded[network.Event](queueInitial, queueLimit)
	a.cbIn, a.cbOut = ibuffer.Unbounded[func() error](queueInitial, queueLimit)
	a.engine = script.NewEngine(a)
	a.installBuiltins()
	return a
}

// Run starts the coordinator loop and blocks on the UI until exit.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx
	a.cancel = cancel
	defer a.shutdown()

	if err := a.engine.Init(config.Dir(), a.scripts); err != nil {
		// Scripts are user content; a broken init.lua must not kill the app.
		log.WithError(err).Error("script initialisation failed")
	}

	watcher, err := config.Watch(a.cfgPath, func() {
		select {
		case a.reload <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log.WithError(err).Warn("config hot-reload unavailable")
	} else {
		a.watcher = watcher
	}

	a.loopDone = make(chan struct{})
	go a.loop(ctx)
	return a.ui.Run(ctx)
}

func (a *App) shutdown() {
	a.cancel()
	if a.loopDone != nil {
		<-a.loopDone
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	for _, sess := range a.sessions {
		sess.Close()
	}
	a.engine.Close()
	a.ui.Quit()
}

// loop is the coordinator's single event loop. Every mutation of app or
// session state happens here.
func (a *App) loop(ctx context.Context) {
	defer close(a.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmdOut:
			a.handleCommand(cmd)
		case ev := <-a.netOut:
			a.routeNetEvent(ev)
		case cb := <-a.cbOut:
			if err := cb(); err != nil {
				a.reportScriptError(a.active, err)
			}
		case line := <-a.ui.Input():
			a.handleUserInput(line)
		case <-a.reload:
			a.reloadConfig()
		}
		a.render()
	}
}

// --- script.Host ---

// Dispatch queues a command for the loop. Never blocks; the engine calls
// this from inside the loop.
func (a *App) Dispatch(cmd command.Command) {
	a.cmdIn <- cmd
}

// Session returns a live session by id.
func (a *App) Session(id mud.SessionId) (*session.Session, error) {
	if sess, ok := a.sessions[id]; ok {
		return sess, nil
	}
	return nil, fmt.Errorf("%d: %w", id, mud.ErrNoSuchSession)
}

// Active returns the focused session, if any.
func (a *App) Active() (mud.SessionId, bool) {
	return a.active, a.active != 0
}

// Config returns the live configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Version returns the client version string.
func (a *App) Version() string {
	return a.version
}

// --- Command handling ---

func (a *App) handleCommand(cmd command.Command) {
	switch c := cmd.(type) {
	case command.NewSession:
		id, err := a.newSession(c.Character, c.Connect)
		if c.Reply != nil {
			select {
			case c.Reply <- command.NewSessionResult{ID: id, Err: err}:
			default:
			}
		}
		if err != nil {
			a.reportScriptError(a.active, err)
		}

	case command.Connect:
		a.withSession(c.Session, func(s *session.Session) error { return s.Connect(a.ctx) })
	case command.Disconnect:
		a.withSession(c.Session, func(s *session.Session) error { return s.Disconnect() })
	case command.CloseSession:
		a.closeSession(c.Session)
	case command.SetActiveSession:
		if _, ok := a.sessions[c.Session]; ok {
			a.setActive(c.Session)
		}

	case command.SendLine:
		a.withSession(c.Session, func(s *session.Session) error {
			if c.Scripted {
				return s.SendScripted(c.Text)
			}
			return s.SendLine(c.Text, c.SkipAliases)
		})

	case command.SetInput:
		a.withSession(c.Session, func(s *session.Session) error {
			s.SetInput(c.Text, c.Cursor)
			return nil
		})
	case command.GetInput:
		if sess, err := a.Session(c.Session); err == nil && c.Reply != nil {
			select {
			case c.Reply <- command.InputState{Text: sess.Input().Value(), Cursor: sess.Input().Cursor()}:
			default:
			}
		}

	case command.Output:
		a.withSession(c.Session, func(s *session.Session) error {
			buf, err := s.Buffer(c.Buffer)
			if err != nil {
				return err
			}
			buf.Add(c.Item)
			return nil
		})

	case command.GetPrompt:
		if sess, err := a.Session(c.Session); err == nil && c.Reply != nil {
			select {
			case c.Reply <- sess.Prompt().Content():
			default:
			}
		}
	case command.SetPrompt:
		a.withSession(c.Session, func(s *session.Session) error {
			s.SetPromptContent(c.Text)
			return nil
		})
	case command.SetPromptMode:
		a.withSession(c.Session, func(s *session.Session) error {
			s.SetPromptMode(c.Mode)
			return nil
		})

	case command.RequestOption:
		a.withSession(c.Session, func(s *session.Session) error {
			if c.Enable {
				return s.RequestEnableOption(c.Option)
			}
			return s.RequestDisableOption(c.Option)
		})
	case command.SendSubnegotiation:
		a.withSession(c.Session, func(s *session.Session) error {
			return s.SendSubnegotiation(c.Option, c.Data)
		})

	case command.GmcpRegister:
		a.withSession(c.Session, func(s *session.Session) error {
			s.GmcpRegister(c.Package)
			return nil
		})
	case command.GmcpUnregister:
		a.withSession(c.Session, func(s *session.Session) error {
			s.GmcpUnregister(c.Package)
			return nil
		})
	case command.GmcpSend:
		a.withSession(c.Session, func(s *session.Session) error {
			return s.GmcpSend(c.Package, c.JSON)
		})

	case command.AddTrigger:
		a.withSession(c.Session, func(s *session.Session) error { return s.Triggers().Add(c.Trigger) })
	case command.RemoveTrigger:
		a.withSession(c.Session, func(s *session.Session) error {
			if s.Triggers().Remove(c.Name) == nil {
				return fmt.Errorf("trigger %q: not found", c.Name)
			}
			return nil
		})
	case command.SetTriggerEnabled:
		a.withSession(c.Session, func(s *session.Session) error {
			tr := s.Triggers().Get(c.Name)
			if tr == nil {
				return fmt.Errorf("trigger %q: not found", c.Name)
			}
			tr.Enabled = c.Enabled
			return nil
		})

	case command.AddAlias:
		a.withSession(c.Session, func(s *session.Session) error { return s.Aliases().Add(c.Alias) })
	case command.RemoveAlias:
		a.withSession(c.Session, func(s *session.Session) error {
			if s.Aliases().Remove(c.Name) == nil {
				return fmt.Errorf("alias %q: not found", c.Name)
			}
			return nil
		})
	case command.SetAliasEnabled:
		a.withSession(c.Session, func(s *session.Session) error {
			al := s.Aliases().Get(c.Name)
			if al == nil {
				return fmt.Errorf("alias %q: not found", c.Name)
			}
			al.Enabled = c.Enabled
			return nil
		})

	case command.AddTimer:
		a.withSession(c.Session, func(s *session.Session) error {
			if err := s.AddTimer(c.Timer); err != nil {
				return err
			}
			if c.Start {
				return s.StartTimer(c.Timer.Name)
			}
			return nil
		})
	case command.RemoveTimer:
		a.withSession(c.Session, func(s *session.Session) error { return s.RemoveTimer(c.Name) })
	case command.StartTimer:
		a.withSession(c.Session, func(s *session.Session) error { return s.StartTimer(c.Name) })
	case command.StopTimer:
		a.withSession(c.Session, func(s *session.Session) error {
			t, ok := s.Timer(c.Name)
			if !ok {
				return fmt.Errorf("timer %q: not found", c.Name)
			}
			t.Stop()
			return nil
		})

	case command.CreateBuffer:
		a.withSession(c.Session, func(s *session.Session) error {
			_, err := s.CreateBuffer(c.Name)
			return err
		})
	case command.RemoveBuffer:
		a.withSession(c.Session, func(s *session.Session) error { return s.RemoveBuffer(c.Name) })

	case command.SetSlashCommand:
		a.slash[c.Name] = c.Fn
	case command.RemoveSlashCommand:
		delete(a.slash, c.Name)
	case command.ReloadScripts:
		a.reloadScripts()

	case command.GetConfig:
		if c.Reply != nil {
			select {
			case c.Reply <- a.cfg:
			default:
			}
		}
	case command.SetGlobalShortcut:
		a.shortcuts[c.Key] = c.Action
	case command.Quit:
		a.quit()
	}
}

// withSession runs op against a session, surfacing failures to the user.
func (a *App) withSession(id mud.SessionId, op func(*session.Session) error) {
	sess, err := a.Session(id)
	if err != nil {
		a.reportScriptError(a.active, err)
		return
	}
	if err := op(sess); err != nil {
		a.reportCommandError(id, err)
	}
}

// --- Session lifecycle ---

func (a *App) newSession(character string, connect bool) (mud.SessionId, error) {
	ch, err := a.cfg.LookupCharacter(character)
	if err != nil {
		return 0, err
	}
	mudCfg, err := a.cfg.MudForCharacter(character)
	if err != nil {
		return 0, err
	}

	a.nextID++
	id := a.nextID
	info := mud.SessionInfo{ID: id, MudName: mudCfg.Name}

	sess := session.New(info, mudCfg, a.version, a.netIn, session.Hooks{
		Emit:     a.fanOut,
		Schedule: func(cb func() error) { a.cbIn <- cb },
	})
	a.sessions[id] = sess
	a.characters[id] = character
	a.order = append(a.order, id)

	if ch.Module != "" {
		a.loadModule(id, ch.Module)
	}
	if a.active == 0 {
		a.setActive(id)
	}
	if connect {
		if err := sess.Connect(a.ctx); err != nil {
			return id, err
		}
	}
	log.WithFields(log.Fields{"session": id, "character": character}).Info("session created")
	return id, nil
}

func (a *App) loadModule(id mud.SessionId, module string) {
	path := filepath.Join(config.Dir(), module+".lua")
	if err := a.engine.LoadModule(path); err != nil {
		a.reportScriptError(id, err)
	}
}

func (a *App) closeSession(id mud.SessionId) {
	sess, ok := a.sessions[id]
	if !ok {
		a.reportScriptError(a.active, fmt.Errorf("%d: %w", id, mud.ErrNoSuchSession))
		return
	}
	sess.Close()
	delete(a.sessions, id)
	delete(a.characters, id)
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}

	if a.active == id {
		next := mud.SessionId(0)
		if len(a.order) > 0 {
			next = a.order[len(a.order)-1]
		}
		a.setActive(next)
	}
}

func (a *App) setActive(id mud.SessionId) {
	if a.active == id {
		return
	}
	payload := event.ActivePayload{}
	if a.active != 0 {
		from := a.active
		payload.From = &from
	}
	if id != 0 {
		to := id
		payload.To = &to
	}
	a.active = id
	a.fanOut(event.Event{Type: event.ActiveSessionChanged, Payload: payload})
}

// --- Event routing ---

func (a *App) routeNetEvent(ev network.Event) {
	sess, ok := a.sessions[ev.Session]
	if !ok {
		// Session closed while events were in flight.
		return
	}
	sess.ProcessEvent(ev)
}

// fanOut delivers an event to every registered script handler. Handler
// failures are reported but never stop the rest.
func (a *App) fanOut(ev event.Event) {
	for _, err := range a.engine.Dispatch(ev) {
		a.reportScriptError(ev.Session, err)
	}
}

// --- User input ---

func (a *App) handleUserInput(line string) {
	if strings.HasPrefix(line, "/") {
		a.runSlashCommand(line)
		return
	}

	if a.active == 0 {
		log.Info("input dropped: no active session")
		return
	}
	sess := a.sessions[a.active]
	if err := sess.SendLine(line, false); err != nil {
		a.reportCommandError(a.active, err)
	}
}

func (a *App) runSlashCommand(line string) {
	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	fn, ok := a.slash[name]
	if !ok {
		a.reportCommandError(a.active, fmt.Errorf("unknown command /%s", name))
		return
	}
	if err := fn(a.active, strings.TrimSpace(args)); err != nil {
		a.reportCommandError(a.active, err)
	}
}

// installBuiltins registers the slash commands that exist without scripts.
// Script reloads clear and re-install them.
func (a *App) installBuiltins() {
	a.slash["quit"] = func(mud.SessionId, string) error {
		a.quit()
		return nil
	}
	a.slash["reload"] = func(mud.SessionId, string) error {
		a.reloadScripts()
		return nil
	}
	a.slash["connect"] = func(id mud.SessionId, args string) error {
		if args != "" {
			_, err := a.newSession(args, true)
			return err
		}
		sess, err := a.Session(id)
		if err != nil {
			return err
		}
		return sess.Connect(a.ctx)
	}
	a.slash["disconnect"] = func(id mud.SessionId, _ string) error {
		sess, err := a.Session(id)
		if err != nil {
			return err
		}
		return sess.Disconnect()
	}
}

// --- Reload ---

// reloadConfig re-reads the config file. On failure the old config is
// retained.
func (a *App) reloadConfig() {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		log.WithError(err).Error("config reload failed, keeping previous config")
		a.reportCommandError(a.active, fmt.Errorf("config reload failed: %w", err))
		return
	}
	a.cfg = cfg
	log.Info("configuration reloaded")
	a.fanOut(event.Event{Type: event.ConfigReloaded, Payload: event.ConfigPayload{Config: cfg}})
}

// reloadScripts clears script-registered state everywhere and re-runs the
// runtime, then tells scripts which sessions still exist.
func (a *App) reloadScripts() {
	for _, sess := range a.sessions {
		sess.ClearScriptState()
	}
	a.slash = make(map[string]func(mud.SessionId, string) error)
	a.installBuiltins()

	if err := a.engine.Reload(); err != nil {
		a.reportScriptError(a.active, err)
	}
	for id, character := range a.characters {
		if ch, err := a.cfg.LookupCharacter(character); err == nil && ch.Module != "" {
			a.loadModule(id, ch.Module)
		}
	}

	a.fanOut(event.Event{Type: event.ScriptsReloaded})
	for _, id := range a.order {
		if a.sessions[id].State() == session.StateConnected {
			a.fanOut(event.Event{Type: event.ResumeSession, Session: id})
		}
	}
}

// --- Error surfacing / rendering ---

func (a *App) reportScriptError(id mud.SessionId, err error) {
	log.WithError(err).Error("script error")
	a.reportCommandError(id, err)
}

func (a *App) reportCommandError(id mud.SessionId, err error) {
	if sess, ok := a.sessions[id]; ok {
		sess.Output().Add(session.CommandResultItem(true, err.Error()))
	}
}

// render pushes freshly drained output of the active session to the UI.
func (a *App) render() {
	sess, ok := a.sessions[a.active]
	if !ok {
		return
	}
	if items := sess.Output().TakeReceived(); len(items) > 0 {
		a.ui.Render(items)
	}
	a.ui.SetPrompt(sess.Prompt().Content())
	a.ui.SetStatus(fmt.Sprintf("[%d] %s - %s", sess.Info().ID, sess.Info().MudName, sess.State()))
}

func (a *App) quit() {
	a.quitOnce.Do(func() {
		log.Info("quitting")
		a.cancel()
	})
}
