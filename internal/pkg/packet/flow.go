package packet

import "fmt"

// Endpoint is one side of a conversation.
type Endpoint struct {
	Addr string
	Port uint16
}

func (e Endpoint) String() string {
	if e.Port == 0 {
		return e.Addr
	}
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Addr != o.Addr {
		return e.Addr < o.Addr
	}
	return e.Port < o.Port
}

// FlowKey identifies a bidirectional conversation. A is always the lower
// endpoint, so swapping source and destination yields the same key. It is a
// comparable value and can be used directly as a map key.
type FlowKey struct {
	A Endpoint
	B Endpoint
}

// NewFlowKey builds a normalized key from two endpoints in either order.
func NewFlowKey(addrA string, portA uint16, addrB string, portB uint16) FlowKey {
	a := Endpoint{Addr: addrA, Port: portA}
	b := Endpoint{Addr: addrB, Port: portB}
	if b.less(a) {
		a, b = b, a
	}
	return FlowKey{A: a, B: b}
}

func (k FlowKey) String() string {
	return k.A.String() + " <-> " + k.B.String()
}
