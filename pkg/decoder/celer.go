package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewCelerDecoder recognizes Celer cBridge's Send (source) and Relay
// (destination) events.
func NewCelerDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolCelerCBridge, []EventSpec{
		{
			Name:      "Send",
			Signature: "Send(bytes32,address,address,address,uint256,uint64,uint64,uint32)",
			EventType: transfer.EventSend,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint64")},
				{Type: mustType("uint64")},
				{Type: mustType("uint32")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				sender := vals[0].(common.Address)
				receiver := vals[1].(common.Address)
				token := vals[2].(common.Address)
				amount := vals[3].(*big.Int)
				dstChainID := vals[5].(uint64)
				setSource(t, sender.Hex()[2:])
				setDestination(t, receiver.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID)
				t.DestinationChain = &dst
				t.Metadata["nonce"] = vals[4]
				return nil
			},
		},
		{
			Name:      "Relay",
			Signature: "Relay(bytes32,address,address,address,uint256,uint64,bytes32)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint64")},
				{Type: mustType("bytes32")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				sender := vals[0].(common.Address)
				receiver := vals[1].(common.Address)
				token := vals[2].(common.Address)
				amount := vals[3].(*big.Int)
				srcChainID := vals[4].(uint64)
				setSource(t, sender.Hex()[2:])
				setDestination(t, receiver.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				src := transfer.ChainTagFromID(srcChainID)
				t.SourceChain = &src
				return nil
			},
		},
	})
}
