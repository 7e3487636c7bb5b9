package registry

import (
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the print technology of a printer
type Type string

const (
	TypeThermal   Type = "thermal"
	TypeInkjet    Type = "inkjet"
	TypeLaser     Type = "laser"
	TypeDotMatrix Type = "dotmatrix"
)

// Interface is a physical or logical channel a printer can be reached over
type Interface string

const (
	InterfaceUSB       Interface = "usb"
	InterfaceSerial    Interface = "serial"
	InterfaceEthernet  Interface = "ethernet"
	InterfaceWiFi      Interface = "wifi"
	InterfaceBluetooth Interface = "bluetooth"
)

// Directive is a logical print command resolved through a profile's command table
type Directive string

const (
	DirectiveInit             Directive = "init"
	DirectiveCut              Directive = "cut"
	DirectivePartialCut       Directive = "partial-cut"
	DirectiveOpenDrawer       Directive = "open-drawer"
	DirectiveAlignLeft        Directive = "align-left"
	DirectiveAlignCenter      Directive = "align-center"
	DirectiveAlignRight       Directive = "align-right"
	DirectiveFontNormal       Directive = "font-normal"
	DirectiveFontBold         Directive = "font-bold"
	DirectiveFontDoubleHeight Directive = "font-double-height"
	DirectiveFontDoubleWidth  Directive = "font-double-width"
	DirectiveFontUnderline    Directive = "font-underline"
	DirectiveSelectCodepage   Directive = "select-codepage"
)

// Sequence is a raw byte sequence. In configuration files it is written as hex
// ("1B 40", "1b40" and "0x1B 0x40" are all accepted).
type Sequence []byte

// ParseSequence decodes a hex representation of a byte sequence.
func ParseSequence(s string) (Sequence, error) {
	r := strings.NewReplacer("0x", "", "0X", "", " ", "", ",", "", "\t", "")
	clean := r.Replace(strings.TrimSpace(s))
	if clean == "" {
		return Sequence{}, nil
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid byte sequence %q: %w", s, err)
	}
	return Sequence(b), nil
}

// String renders the sequence as upper-case spaced hex
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// MarshalText implements encoding.TextMarshaler
func (s Sequence) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Sequence) UnmarshalText(text []byte) error {
	seq, err := ParseSequence(string(text))
	if err != nil {
		return err
	}
	*s = seq
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Sequence) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

// MarshalYAML implements yaml.Marshaler
func (s Sequence) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Profile describes a known printer model and how to talk to it
type Profile struct {
	ID            string                 `yaml:"id" json:"id"`
	Brand         string                 `yaml:"brand" json:"brand"`
	Model         string                 `yaml:"model" json:"model"`
	Name          string                 `yaml:"name" json:"name"`
	Type          Type                   `yaml:"type" json:"type"`
	Interfaces    []Interface            `yaml:"interfaces" json:"interfaces"`
	PaperWidthMM  int                    `yaml:"paper_width_mm" json:"paper_width_mm"`
	DPI           int                    `yaml:"dpi" json:"dpi"`
	SpeedMMPerSec int                    `yaml:"speed_mm_per_sec" json:"speed_mm_per_sec"`
	Columns       int                    `yaml:"columns,omitempty" json:"columns,omitempty"`
	Codepage      string                 `yaml:"codepage,omitempty" json:"codepage,omitempty"`
	Raster        bool                   `yaml:"raster,omitempty" json:"raster,omitempty"`
	Default       bool                   `yaml:"default,omitempty" json:"default,omitempty"`
	Commands      map[Directive]Sequence `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// Command returns the byte sequence for a directive, if the profile defines one
func (p Profile) Command(d Directive) (Sequence, bool) {
	seq, ok := p.Commands[d]
	if !ok || len(seq) == 0 {
		return nil, false
	}
	out := make(Sequence, len(seq))
	copy(out, seq)
	return out, true
}

// Supports reports whether the profile defines the directive
func (p Profile) Supports(d Directive) bool {
	_, ok := p.Command(d)
	return ok
}

// HasInterface reports whether the printer can be reached over the given interface
func (p Profile) HasInterface(i Interface) bool {
	for _, have := range p.Interfaces {
		if have == i {
			return true
		}
	}
	return false
}

// CharsPerLine is the number of font A characters that fit on a line
func (p Profile) CharsPerLine() int {
	if p.Columns > 0 {
		return p.Columns
	}
	if p.PaperWidthMM > 0 && p.PaperWidthMM <= 58 {
		return 32
	}
	return 48
}

// PrintableDots is the printable width in dots, used for raster graphics
func (p Profile) PrintableDots() int {
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 203
	}
	width := p.PaperWidthMM
	if width <= 0 {
		width = 80
	}
	// roughly 8mm of margins on thermal heads
	printable := width - 8
	if printable < 8 {
		printable = width
	}
	dots := printable * dpi * 10 / 254
	return dots - dots%8
}

func (p Profile) clone() Profile {
	c := p
	c.Interfaces = append([]Interface(nil), p.Interfaces...)
	if p.Commands != nil {
		c.Commands = make(map[Directive]Sequence, len(p.Commands))
		for d, seq := range p.Commands {
			c.Commands[d] = append(Sequence(nil), seq...)
		}
	}
	return c
}
