package socketcan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransport_InterfaceName(t *testing.T) {
	tr := New("")
	assert.Equal(t, "can0", tr.InterfaceName(0))
	assert.Equal(t, "can5", tr.InterfaceName(5))

	tr = New("vcan%d")
	tr.Interfaces[2] = "slcan0"
	assert.Equal(t, "vcan1", tr.InterfaceName(1))
	assert.Equal(t, "slcan0", tr.InterfaceName(2))

	zero := &Transport{}
	assert.Equal(t, "can3", zero.InterfaceName(3))
}
