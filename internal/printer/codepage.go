package printer

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

var codepages = map[string]*charmap.Charmap{
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp852":        charmap.CodePage852,
	"cp858":        charmap.CodePage858,
	"cp860":        charmap.CodePage860,
	"cp866":        charmap.CodePage866,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
}

// textEncoder converts UTF-8 text to a single-byte printer codepage.
// A nil charmap passes text through unchanged.
type textEncoder struct {
	cm *charmap.Charmap
}

func newTextEncoder(name string) (*textEncoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return &textEncoder{}, nil
	}
	cm, ok := codepages[name]
	if !ok {
		return &textEncoder{}, fmt.Errorf("%w: %s", ErrUnknownCodepage, name)
	}
	return &textEncoder{cm: cm}, nil
}

func (e *textEncoder) encode(s string) []byte {
	if e == nil || e.cm == nil {
		return []byte(s)
	}

	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		b, ok := e.cm.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// Codepages lists the supported codepage names in order
func Codepages() []string {
	names := make([]string, 0, len(codepages))
	for name := range codepages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
