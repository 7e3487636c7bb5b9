package printer

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/thereceipt/print-station/internal/registry"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Encode returns the byte sequence for a single directive on the given profile.
// A directive the profile does not define is reported as unsupported and no
// bytes are returned.
func Encode(p registry.Profile, d registry.Directive) ([]byte, error) {
	seq, ok := p.Command(d)
	if !ok {
		return nil, unsupportedErr("encode "+string(d),
			fmt.Errorf("%w: profile %s has no %s command", ErrUnsupported, p.ID, d))
	}
	return []byte(seq), nil
}

// Document builds a device-ready byte stream for one profile
type Document struct {
	profile registry.Profile
	buffer  *bytes.Buffer
	text    *textEncoder
	err     error
}

// NewDocument creates an empty document for a profile
func NewDocument(p registry.Profile) *Document {
	d := &Document{
		profile: p,
		buffer:  new(bytes.Buffer),
	}

	enc, err := newTextEncoder(p.Codepage)
	if err != nil {
		d.err = configErr("select codepage", err)
	}
	d.text = enc

	return d
}

// Profile returns the profile the document is encoded for
func (d *Document) Profile() registry.Profile {
	return d.profile
}

// Directive appends a directive. Directives the profile lacks are skipped.
func (d *Document) Directive(dir registry.Directive) {
	if seq, ok := d.profile.Command(dir); ok {
		d.buffer.Write(seq)
	}
}

// Text writes text transcoded to the profile codepage
func (d *Document) Text(s string) {
	d.buffer.Write(d.text.encode(s))
}

// Line writes text followed by a line feed
func (d *Document) Line(s string) {
	d.Text(s)
	d.LineFeed()
}

// LineFeed sends line feed
func (d *Document) LineFeed() {
	d.buffer.WriteByte(LF)
}

// Feed sends multiple line feeds
func (d *Document) Feed(lines int) {
	for i := 0; i < lines; i++ {
		d.LineFeed()
	}
}

// Separator writes a full-width dashed line
func (d *Document) Separator() {
	d.Line(strings.Repeat("-", d.profile.CharsPerLine()))
}

// Image prints an image as raster graphics on raster-capable profiles
func (d *Document) Image(img image.Image) {
	if img == nil || !d.profile.Raster {
		return
	}
	d.buffer.Write(rasterize(img, d.profile.PrintableDots()))
}

// Err returns the first error recorded while building the document
func (d *Document) Err() error {
	return d.err
}

// Bytes returns the generated commands
func (d *Document) Bytes() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]byte, d.buffer.Len())
	copy(out, d.buffer.Bytes())
	return out, nil
}

// Len returns the number of bytes written so far
func (d *Document) Len() int {
	return d.buffer.Len()
}

// Reset clears the buffer
func (d *Document) Reset() {
	d.buffer.Reset()
}

func (d *Document) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
