// Package lens describes the device's physical camera lenses, the two-lens
// capture modes built from them, and their calibration profiles.
package lens

import "fmt"

// Identity identifies one of the device's fixed back lenses.
type Identity int

const (
	Wide Identity = iota
	UltraWide
	Telephoto
)

func (id Identity) String() string {
	switch id {
	case Wide:
		return "wide"
	case UltraWide:
		return "ultra_wide"
	case Telephoto:
		return "telephoto"
	default:
		return fmt.Sprintf("lens(%d)", int(id))
	}
}

// Valid reports whether id is one of the known lenses.
func (id Identity) Valid() bool {
	return id >= Wide && id <= Telephoto
}

// ParseIdentity parses the String form of a lens identity.
func ParseIdentity(s string) (Identity, error) {
	switch s {
	case "wide":
		return Wide, nil
	case "ultra_wide", "ultrawide":
		return UltraWide, nil
	case "telephoto", "tele":
		return Telephoto, nil
	}
	return 0, fmt.Errorf("unknown lens %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid lens %d", int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(b []byte) error {
	v, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Mode selects which two lenses take part in a capture.
type Mode int

const (
	TeleWide      Mode = iota // Wide + Telephoto
	WideUltraWide             // Wide + UltraWide
)

func (m Mode) String() string {
	switch m {
	case TeleWide:
		return "tele_wide"
	case WideUltraWide:
		return "wide_ultra_wide"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the String form of a capture mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tele_wide", "telewide":
		return TeleWide, nil
	case "wide_ultra_wide", "wideultrawide":
		return WideUltraWide, nil
	}
	return 0, fmt.Errorf("unknown capture mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m != TeleWide && m != WideUltraWide {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Lenses returns the two lenses a capture in this mode uses.
func (m Mode) Lenses() (Identity, Identity) {
	if m == WideUltraWide {
		return Wide, UltraWide
	}
	return Wide, Telephoto
}

// Wider returns the mode's lens with the wider field of view.
func (m Mode) Wider() Identity {
	if m == WideUltraWide {
		return UltraWide
	}
	return Wide
}

// Accepts reports whether a and b are exactly this mode's lens pair,
// in either order.
func (m Mode) Accepts(a, b Identity) bool {
	x, y := m.Lenses()
	return (a == x && b == y) || (a == y && b == x)
}
