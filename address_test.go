package amb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlatAddress_RoundTrip(t *testing.T) {
	nodes := []uint16{0, 1, 0x13, 0x7FE, 0x1000, MaxNode}
	rcas := []uint32{0, 1, 0x10801, 0x20000, MaxRCA}
	for _, node := range nodes {
		for _, rca := range rcas {
			a := FlatAddress(node, rca)
			gotNode, gotRCA := a.Split()
			assert.Equal(t, node, gotNode, "node 0x%X rca 0x%X", node, rca)
			assert.Equal(t, rca, gotRCA, "node 0x%X rca 0x%X", node, rca)
		}
	}
}

func TestFlatAddress_Formula(t *testing.T) {
	assert.Equal(t, BusAddress(0x40000), FlatAddress(0, 0))
	assert.Equal(t, BusAddress(0x13*0x40000+0x40000+0x10801), FlatAddress(0x13, 0x10801))
	assert.Equal(t, BusAddress(0x100000000+0x3FFFF), FlatAddress(MaxNode, MaxRCA))
}

func TestBusAddress_CANID(t *testing.T) {
	tests := []struct {
		name   string
		node   uint16
		rca    uint32
		wantID uint32
		wantOK bool
	}{
		{name: "first node", node: 0, rca: 0, wantID: 0x40000, wantOK: true},
		{name: "highest fitting", node: 0x7FE, rca: MaxRCA, wantID: 0x1FFFFFFF, wantOK: true},
		{name: "first overflow", node: 0x7FF, rca: 0},
		{name: "max node", node: MaxNode, rca: MaxRCA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FlatAddress(tt.node, tt.rca).CANID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantOK, validAddress(tt.node, tt.rca))
		})
	}
}

func TestValidAddress_Bounds(t *testing.T) {
	assert.False(t, validAddress(MaxNode+1, 0))
	assert.False(t, validAddress(0, MaxRCA+1))
	assert.True(t, validAddress(0, MaxRCA))
}
