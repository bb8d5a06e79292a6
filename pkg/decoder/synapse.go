package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewSynapseDecoder recognizes Synapse's TokenDeposit (source) and
// TokenRedeem (destination) events.
func NewSynapseDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolSynapse, []EventSpec{
		{
			Name:      "TokenDeposit",
			Signature: "TokenDeposit(address,uint256,address,uint256)",
			EventType: transfer.EventDeposit,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				dstChainID := vals[0].(*big.Int)
				token := vals[1].(common.Address)
				amount := vals[2].(*big.Int)
				setSource(t, raw.Topics[1].Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(dstChainID.Uint64())
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "TokenRedeem",
			Signature: "TokenRedeem(address,uint256,address,uint256)",
			EventType: transfer.EventRedeem,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("uint256")},
				{Type: mustType("address")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				token := vals[1].(common.Address)
				amount := vals[2].(*big.Int)
				setDestination(t, raw.Topics[1].Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				return nil
			},
		},
	})
}
