package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewHopDecoder recognizes Hop's TransferSentToL2 (source) and
// WithdrawalBonded (destination) events.
func NewHopDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolHop, []EventSpec{
		{
			Name:      "TransferSentToL2",
			Signature: "TransferSentToL2(uint256,address,uint256,uint256,uint256,address,uint256)",
			EventType: transfer.EventSend,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				dstChainID := vals[0].(*big.Int)
				amount := vals[1].(*big.Int)
				setSource(t, raw.Topics[2].Hex()[2:])
				setToken(t, raw.Address)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID.Uint64())
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "WithdrawalBonded",
			Signature: "WithdrawalBonded(bytes32,uint256)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				amount := vals[0].(*big.Int)
				setToken(t, raw.Address)
				setAmount(t, amount)
				t.Metadata["transferId"] = raw.Topics[1].Hex()
				return nil
			},
		},
	})
}
