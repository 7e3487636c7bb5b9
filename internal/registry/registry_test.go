package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresProfiles(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestNew_RejectsDuplicateID(t *testing.T) {
	_, err := New(Profile{ID: "a"}, Profile{ID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestNew_RejectsTwoDefaults(t *testing.T) {
	_, err := New(Profile{ID: "a", Default: true}, Profile{ID: "b", Default: true})
	assert.Error(t, err)
}

func TestDefault_FlaggedRegardlessOfOrder(t *testing.T) {
	first, err := New(Profile{ID: "plain"}, Profile{ID: "flagged", Default: true})
	require.NoError(t, err)
	assert.Equal(t, "flagged", first.Default().ID)

	second, err := New(Profile{ID: "flagged", Default: true}, Profile{ID: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "flagged", second.Default().ID)
}

func TestDefault_FallsBackToFirst(t *testing.T) {
	reg, err := New(Profile{ID: "one"}, Profile{ID: "two"})
	require.NoError(t, err)
	assert.Equal(t, "one", reg.Default().ID)
}

func TestByID(t *testing.T) {
	reg := Builtin()

	p, err := reg.ByID("elgin-i9")
	require.NoError(t, err)
	assert.Equal(t, "Elgin", p.Brand)

	_, err = reg.ByID("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestProfilesAreImmutable(t *testing.T) {
	reg := Builtin()

	p, err := reg.ByID("epson-tm-t20")
	require.NoError(t, err)
	p.Commands[DirectiveCut][0] = 0xFF
	p.Interfaces[0] = InterfaceBluetooth

	again, err := reg.ByID("epson-tm-t20")
	require.NoError(t, err)
	assert.Equal(t, byte(0x1D), again.Commands[DirectiveCut][0])
	assert.Equal(t, InterfaceUSB, again.Interfaces[0])
}

func TestBuiltin(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, "epson-tm-t20", reg.Default().ID)
	assert.Equal(t, len(BuiltinProfiles()), reg.Len())

	generic, err := reg.ByID("generic-58")
	require.NoError(t, err)
	assert.False(t, generic.Supports(DirectiveOpenDrawer))
	assert.Equal(t, 32, generic.CharsPerLine())

	laser, err := reg.ByID("office-laser")
	require.NoError(t, err)
	assert.False(t, laser.Supports(DirectiveCut))
}

func TestParseSequence(t *testing.T) {
	for _, in := range []string{"1B 40", "1b40", "0x1B 0x40", "1B,40"} {
		seq, err := ParseSequence(in)
		require.NoError(t, err, in)
		assert.Equal(t, Sequence{0x1B, 0x40}, seq, in)
	}

	_, err := ParseSequence("1G")
	assert.Error(t, err)

	assert.Equal(t, "1D 56 00", Sequence{0x1D, 0x56, 0x00}.String())
}

const catalogueYAML = `
default: kitchen
printers:
  - id: counter
    brand: Epson
    model: TM-T20
    name: Counter
    type: thermal
    interfaces: [usb, ethernet]
    paper_width_mm: 80
    dpi: 203
    commands:
      init: "1B 40"
      cut: "1D 56 00"
      open-drawer: "1B 70 00 19 FA"
  - id: kitchen
    brand: Generic
    model: POS-58
    name: Kitchen
    type: thermal
    interfaces: [bluetooth]
    paper_width_mm: 58
    commands:
      init: "1b40"
`

func TestLoad(t *testing.T) {
	reg, err := Load([]byte(catalogueYAML))
	require.NoError(t, err)

	assert.Equal(t, "kitchen", reg.Default().ID)

	counter, err := reg.ByID("counter")
	require.NoError(t, err)
	assert.False(t, counter.Default)
	assert.True(t, counter.HasInterface(InterfaceEthernet))
	drawer, ok := counter.Command(DirectiveOpenDrawer)
	require.True(t, ok)
	assert.Equal(t, Sequence{0x1B, 0x70, 0x00, 0x19, 0xFA}, drawer)
}

func TestLoad_UnknownDefault(t *testing.T) {
	_, err := Load([]byte("default: nope\nprinters:\n  - id: a\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
