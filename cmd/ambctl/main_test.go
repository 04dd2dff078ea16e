package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"github.com/jaster-prj/go-amb/transport/gocan"
	"github.com/jaster-prj/go-amb/transport/socketcan"
)

func loadSection(t *testing.T, data string) *ini.Section {
	t.Helper()
	file, err := ini.Load([]byte(data))
	require.NoError(t, err)
	return file.Section("transport")
}

func TestBuildTransport(t *testing.T) {
	tr, err := buildTransport(loadSection(t, "[transport]\nkind = socketcan\ninterface.1 = vcan7\n"))
	require.NoError(t, err)
	sc, ok := tr.(*socketcan.Transport)
	require.True(t, ok)
	assert.Equal(t, "vcan7", sc.InterfaceName(1))
	assert.Equal(t, "can0", sc.InterfaceName(0))

	tr, err = buildTransport(loadSection(t, "[transport]\nkind = usbcan\nport.0 = /dev/ttyUSB0\n"))
	require.NoError(t, err)
	_, ok = tr.(*gocan.Transport)
	assert.True(t, ok)

	_, err = buildTransport(loadSection(t, "[transport]\nkind = usbcan\nport.x = /dev/ttyUSB0\n"))
	assert.Error(t, err)

	_, err = buildTransport(loadSection(t, "[transport]\nkind = carrier-pigeon\n"))
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	ch, node, rca, err := parseTarget([]string{"2", "0x13", "0x20001"})
	require.NoError(t, err)
	assert.Equal(t, 2, ch)
	assert.Equal(t, uint16(0x13), node)
	assert.Equal(t, uint32(0x20001), rca)

	_, _, _, err = parseTarget([]string{"x", "1", "1"})
	assert.Error(t, err)
}
