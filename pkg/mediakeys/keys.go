package mediakeys

import "fmt"

// Key identifies a hardware media key.
type Key int

const (
	KeyPlayPause Key = iota + 1
	KeyFastForward
	KeyRewind
	KeyPreviousTrack
	KeyNextTrack
)

func (k Key) String() string {
	switch k {
	case KeyPlayPause:
		return "playPause"
	case KeyFastForward:
		return "fastForward"
	case KeyRewind:
		return "rewind"
	case KeyPreviousTrack:
		return "previousTrack"
	case KeyNextTrack:
		return "nextTrack"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// KeyEvent is a single decoded key transition.
type KeyEvent struct {
	Key  Key
	Down bool
}

// Result tells the tap what to do with the original OS event.
type Result int

const (
	// Propagate lets the event continue to the rest of the system.
	Propagate Result = iota
	// Block consumes the event.
	Block
)

func (r Result) String() string {
	if r == Block {
		return "block"
	}
	return "propagate"
}

// EventType classifies a raw event arriving from the tap.
type EventType uint32

const (
	// EventSystemDefined is NX_SYSDEFINED, the class carrying media keys.
	EventSystemDefined EventType = 14
	// EventTapDisabledByTimeout is kCGEventTapDisabledByTimeout.
	EventTapDisabledByTimeout EventType = 0xFFFFFFFE
	// EventTapDisabledByUserInput is kCGEventTapDisabledByUserInput.
	EventTapDisabledByUserInput EventType = 0xFFFFFFFF
)

// subtypeAuxControlButtons is the NSEvent subtype used for media keys. AppKit names
// it NSEventSubtypeScreenChanged.
const subtypeAuxControlButtons = 8

// Raw key codes from IOKit's ev_keymap.h.
const (
	rawKeyPlay     = 16 // NX_KEYTYPE_PLAY
	rawKeyNext     = 17 // NX_KEYTYPE_NEXT
	rawKeyPrevious = 18 // NX_KEYTYPE_PREVIOUS
	rawKeyFast     = 19 // NX_KEYTYPE_FAST
	rawKeyRewind   = 20 // NX_KEYTYPE_REWIND
)

const keyStateDown = 0xa

// RawEvent is the tap-level view of an event before decoding.
type RawEvent struct {
	Type    EventType
	Subtype int
	Data1   int64
}

// MediaKeyEvent builds the raw system-defined event a keyboard emits for key.
func MediaKeyEvent(code int, down bool) RawEvent {
	state := int64(0xb)
	if down {
		state = keyStateDown
	}
	return RawEvent{
		Type:    EventSystemDefined,
		Subtype: subtypeAuxControlButtons,
		Data1:   int64(code)<<16 | state<<8,
	}
}

// RawCode returns the hardware code for key, or zero.
func RawCode(key Key) int {
	switch key {
	case KeyPlayPause:
		return rawKeyPlay
	case KeyNextTrack:
		return rawKeyNext
	case KeyPreviousTrack:
		return rawKeyPrevious
	case KeyFastForward:
		return rawKeyFast
	case KeyRewind:
		return rawKeyRewind
	default:
		return 0
	}
}

// Decode extracts a key transition from a raw event. ok is false for anything that
// is not a media key event with a known code.
func Decode(raw RawEvent) (KeyEvent, bool) {
	if raw.Type != EventSystemDefined || raw.Subtype != subtypeAuxControlButtons {
		return KeyEvent{}, false
	}

	flags := raw.Data1 & 0x0000ffff
	code := int((raw.Data1 & 0xffff0000) >> 16)
	down := (flags&0xff00)>>8 == keyStateDown

	key, ok := keyFromRaw(code)
	if !ok {
		return KeyEvent{}, false
	}
	return KeyEvent{Key: key, Down: down}, true
}

func keyFromRaw(code int) (Key, bool) {
	switch code {
	case rawKeyPlay:
		return KeyPlayPause, true
	case rawKeyFast:
		return KeyFastForward, true
	case rawKeyRewind:
		return KeyRewind, true
	case rawKeyPrevious:
		return KeyPreviousTrack, true
	case rawKeyNext:
		return KeyNextTrack, true
	default:
		return 0, false
	}
}
