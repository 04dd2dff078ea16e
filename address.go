package amb

const (
	// NodeStride is the flat address span reserved for each node.
	NodeStride = 0x40000

	// MaxNode is the highest node address the encoding can carry.
	MaxNode = 0x3FFF

	// MaxRCA is the highest relative address within a node.
	MaxRCA = NodeStride - 1

	maxCANID = 0x1FFFFFFF
)

// BusAddress is a flat bus address combining a node address and an RCA.
type BusAddress uint64

// FlatAddress encodes a node address and relative address as
// (node+1)*0x40000 + rca.
func FlatAddress(node uint16, rca uint32) BusAddress {
	return BusAddress((uint64(node)+1)*NodeStride + uint64(rca))
}

// Split decodes the node address and RCA. Addresses below the first node
// (broadcast range) report node 0xFFFF.
func (a BusAddress) Split() (node uint16, rca uint32) {
	return uint16(uint64(a)/NodeStride - 1), uint32(uint64(a) % NodeStride)
}

// CANID returns the 29-bit extended identifier for the address. ok is false
// when the address does not fit an extended CAN identifier.
func (a BusAddress) CANID() (id uint32, ok bool) {
	if a > maxCANID {
		return 0, false
	}
	return uint32(a), true
}

func validAddress(node uint16, rca uint32) bool {
	if node > MaxNode || rca > MaxRCA {
		return false
	}
	_, ok := FlatAddress(node, rca).CANID()
	return ok
}
