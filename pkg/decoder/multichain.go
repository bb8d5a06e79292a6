package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewMultichainDecoder recognizes Multichain's LogAnySwapOut (source) and
// LogAnySwapIn (destination) events.
func NewMultichainDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolMultichain, []EventSpec{
		{
			Name:      "LogAnySwapOut",
			Signature: "LogAnySwapOut(address,address,address,uint256,uint256,uint256)",
			EventType: transfer.EventSend,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[0].(*big.Int)
				dstChainID := vals[2].(*big.Int)
				setToken(t, common.BytesToAddress(raw.Topics[1].Bytes()))
				setSource(t, raw.Topics[2].Hex()[2:])
				setDestination(t, raw.Topics[3].Hex()[2:])
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID.Uint64())
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "LogAnySwapIn",
			Signature: "LogAnySwapIn(bytes32,address,address,uint256,uint256,uint256)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[0].(*big.Int)
				srcChainID := vals[2].(*big.Int)
				setToken(t, common.BytesToAddress(raw.Topics[1].Bytes()))
				setDestination(t, raw.Topics[2].Hex()[2:])
				setAmount(t, amount)
				src := transfer.ChainTagFromID(srcChainID.Uint64())
				t.SourceChain = &src
				return nil
			},
		},
	})
}
