package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewAcrossDecoder recognizes Across's FundsDeposited (source) and
// FilledRelay (destination) events.
func NewAcrossDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolAcross, []EventSpec{
		{
			Name:      "FundsDeposited",
			Signature: "FundsDeposited(uint256,uint256,uint256,uint32,address,address,address,bytes)",
			EventType: transfer.EventDeposit,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint32")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("bytes")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				dstChainID := vals[0].(*big.Int)
				amount := vals[1].(*big.Int)
				depositor := vals[4].(common.Address)
				recipient := vals[5].(common.Address)
				token := vals[6].(common.Address)
				setSource(t, depositor.Hex()[2:])
				setDestination(t, recipient.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID.Uint64())
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "FilledRelay",
			Signature: "FilledRelay(uint256,uint256,uint256,uint64,uint32,uint32,address,address,address,bytes)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint64")},
				{Type: mustType("uint32")},
				{Type: mustType("uint32")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("address")},
				{Type: mustType("bytes")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[1].(*big.Int)
				srcChainID := vals[4].(uint32)
				depositor := vals[6].(common.Address)
				recipient := vals[7].(common.Address)
				token := vals[8].(common.Address)
				setSource(t, depositor.Hex()[2:])
				setDestination(t, recipient.Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				src := transfer.ChainTagFromID(uint64(srcChainID))
				t.SourceChain = &src
				return nil
			},
		},
	})
}
