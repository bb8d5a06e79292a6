package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/addrvalidate"
	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewStargateDecoder recognizes Stargate's source-side Swap and
// destination-side SwapRemote events. Event rename/version drift (e.g.
// SwapRemote vs SwapRemoteRetry) is handled by declaring every alias in
// this table, never by name-string dispatch (§4.2).
func NewStargateDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolStargate, []EventSpec{
		{
			Name:      "Swap",
			Signature: "Swap(uint16,uint256,uint256,address,uint256,uint256)",
			EventType: transfer.EventSwap,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint16")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				dstChainID := vals[0].(uint16)
				amount := vals[4].(*big.Int)
				from := vals[3].(common.Address)
				setSource(t, from.Hex()[2:])
				setToken(t, raw.Address)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(uint64(dstChainID))
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "SwapRemote",
			Signature: "SwapRemote(address,uint256,uint256,uint256)",
			EventType: transfer.EventReceive,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				to := addrvalidate.RecipientFromTopic(raw.Topics[1])
				t.DestinationAddress = ptr(to)
				amount := vals[0].(*big.Int)
				setToken(t, raw.Address)
				setAmount(t, amount)
				return nil
			},
		},
	})
}
