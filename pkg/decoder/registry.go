package decoder

import "github.com/certen/bridge-observer/pkg/transfer"

// Registry maps a configured protocol name to its decoder constructor. An
// Observer looks up its decoder here at construction time; adding a new
// protocol means adding one entry plus one data file, never touching the
// Observer or pipeline (§9 redesign note).
var Registry = map[transfer.Protocol]func() *ProtocolDecoder{
	transfer.ProtocolStargate:     NewStargateDecoder,
	transfer.ProtocolCelerCBridge: NewCelerDecoder,
	transfer.ProtocolWormhole:     NewWormholeDecoder,
	transfer.ProtocolSynapse:      NewSynapseDecoder,
	transfer.ProtocolHop:          NewHopDecoder,
	transfer.ProtocolDeBridge:     NewDeBridgeDecoder,
	transfer.ProtocolAcross:       NewAcrossDecoder,
	transfer.ProtocolOrbiter:      NewOrbiterDecoder,
	transfer.ProtocolXBridge:      NewXBridgeDecoder,
	transfer.ProtocolMultichain:   NewMultichainDecoder,
}

// For builds the decoder registered for protocol, or nil if unknown.
func For(protocol transfer.Protocol) *ProtocolDecoder {
	ctor, ok := Registry[protocol]
	if !ok {
		return nil
	}
	return ctor()
}
