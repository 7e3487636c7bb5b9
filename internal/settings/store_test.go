package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkPrinterIPPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "settings.json")

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.NetworkPrinterIP())

	require.NoError(t, s.SetNetworkPrinterIP("192.168.0.50"))
	assert.Equal(t, "192.168.0.50", s.NetworkPrinterIP())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.50", reopened.NetworkPrinterIP())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"network_printer_ip": "192.168.0.50"`)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenNullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())

	require.NoError(t, s.SetNetworkPrinterIP("10.0.0.1"))
	assert.Equal(t, "10.0.0.1", s.NetworkPrinterIP())
}

func TestSetNetworkPrinterIPTrims(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	require.NoError(t, s.SetNetworkPrinterIP(" 192.168.0.50 "))
	assert.Equal(t, "192.168.0.50", s.NetworkPrinterIP())

	assert.ErrorIs(t, s.SetNetworkPrinterIP("   "), ErrEmptyAddress)
	assert.Equal(t, "192.168.0.50", s.NetworkPrinterIP())
}

func TestMemoryStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("a", "1"))
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	require.NoError(t, s.Delete("a"))
	_, ok := s.Get("a")
	assert.False(t, ok)
}
