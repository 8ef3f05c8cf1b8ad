package telnet

// Entry packs the negotiation state for a single option into four public
// bits (local/remote support and local/remote enabled) plus one internal
// request-outstanding bit. Enabled implies supported.
type Entry byte

const (
	entrySupportLocal  Entry = 1
	entrySupportRemote Entry = 1 << 1
	entryLocalState    Entry = 1 << 2
	entryRemoteState   Entry = 1 << 3
	// entryRequestSent tracks an outstanding DO so repeated enable requests
	// don't spam the peer before it replies.
	entryRequestSent Entry = 1 << 4
)

// LocalSupport reports whether the option is supported locally.
func (e Entry) LocalSupport() bool { return e&entrySupportLocal != 0 }

// RemoteSupport reports whether the option is supported remotely.
func (e Entry) RemoteSupport() bool { return e&entrySupportRemote != 0 }

// LocalEnabled reports whether the option is currently enabled locally.
func (e Entry) LocalEnabled() bool { return e&entryLocalState != 0 }

// RemoteEnabled reports whether the option is currently enabled remotely.
func (e Entry) RemoteEnabled() bool { return e&entryRemoteState != 0 }

// Table tracks negotiation state for all 256 telnet options.
//
// This is deliberately a permissive variant rather than a strict RFC 1143
// "Q method" implementation: duplicate WILLs do not re-affirm, and only
// changed transitions produce replies. The behaviour is kept bug-for-bug
// compatible with deployed MUD servers.
type Table struct {
	options [256]Entry
}

// NewTable creates a table with both support bits set for each of the
// given locally-supported options.
func NewTable(supported ...byte) *Table {
	t := &Table{}
	for _, opt := range supported {
		t.options[opt] |= entrySupportLocal | entrySupportRemote
	}
	return t
}

// Option returns the current state for an option.
func (t *Table) Option(opt byte) Entry {
	return t.options[opt]
}

// Reset clears all negotiated states, preserving support bits.
func (t *Table) Reset() {
	for i := range t.options {
		t.options[i] &^= entryLocalState | entryRemoteState | entryRequestSent
	}
}

// RequestEnable marks the option supported and, if the remote side has not
// already enabled it and no request is outstanding, returns the DO to
// transmit.
func (t *Table) RequestEnable(opt byte) *Negotiation {
	entry := &t.options[opt]
	*entry |= entrySupportLocal | entrySupportRemote
	if entry.RemoteEnabled() || *entry&entryRequestSent != 0 {
		return nil
	}
	*entry |= entryRequestSent
	n := Do(opt)
	return &n
}

// RequestDisable clears the option's support bits and, if the remote side
// currently has it enabled, returns the DONT to transmit.
func (t *Table) RequestDisable(opt byte) *Negotiation {
	entry := &t.options[opt]
	*entry &^= entrySupportLocal | entrySupportRemote | entryRequestSent
	if !entry.RemoteEnabled() {
		return nil
	}
	n := Dont(opt)
	return &n
}

// ReplyEnableIfSupported handles a peer WILL (peerSentWill true) or DO
// (false). If the option is locally supported and not yet enabled, it is
// marked enabled and the affirmative reply is returned: DO for a WILL,
// WILL for a DO.
func (t *Table) ReplyEnableIfSupported(opt byte, peerSentWill bool) *Negotiation {
	entry := &t.options[opt]
	*entry &^= entryRequestSent
	if !entry.LocalSupport() || entry.LocalEnabled() {
		return nil
	}
	*entry |= entryLocalState
	if peerSentWill {
		*entry |= entryRemoteState
		n := Do(opt)
		return &n
	}
	n := Will(opt)
	return &n
}

// ReplyDisableIfEnabled handles a peer WONT (peerSentWont true) or DONT
// (false). If the option is locally enabled, it is disabled and the
// acknowledging reply is returned: DONT for a WONT, WONT for a DONT.
func (t *Table) ReplyDisableIfEnabled(opt byte, peerSentWont bool) *Negotiation {
	entry := &t.options[opt]
	*entry &^= entryRequestSent
	if !entry.LocalEnabled() {
		return nil
	}
	*entry &^= entryLocalState
	if peerSentWont {
		*entry &^= entryRemoteState
		n := Dont(opt)
		return &n
	}
	n := Wont(opt)
	return &n
}

// EnabledLocally returns every option currently enabled locally.
func (t *Table) EnabledLocally() []byte {
	var opts []byte
	for i, entry := range t.options {
		if entry.LocalEnabled() {
			opts = append(opts, byte(i))
		}
	}
	return opts
}
