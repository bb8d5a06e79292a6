package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewDeBridgeDecoder recognizes deBridge's Sent (source) and Claimed
// (destination) events.
func NewDeBridgeDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolDeBridge, []EventSpec{
		{
			Name:      "Sent",
			Signature: "Sent(bytes32,uint256,address,address,uint256,uint256,uint32)",
			EventType: transfer.EventSend,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint32")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[0].(*big.Int)
				token := vals[1].(common.Address)
				receiver := vals[2].(common.Address)
				dstChainID := vals[4].(*big.Int)
				setDestination(t, receiver.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID.Uint64())
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "Claimed",
			Signature: "Claimed(bytes32,uint256,address,address,uint256)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[0].(*big.Int)
				token := vals[1].(common.Address)
				receiver := vals[2].(common.Address)
				setDestination(t, receiver.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				return nil
			},
		},
	})
}
