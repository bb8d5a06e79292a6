package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewXBridgeDecoder recognizes XBridge's Deposit (source) and Redeem
// (destination) events.
func NewXBridgeDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolXBridge, []EventSpec{
		{
			Name:      "Deposit",
			Signature: "Deposit(address,address,uint256,uint16,uint64)",
			EventType: transfer.EventDeposit,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint16")},
				{Type: mustType("uint64")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				token := vals[0].(common.Address)
				amount := vals[1].(*big.Int)
				dstChainID := vals[2].(uint16)
				setSource(t, raw.Topics[1].Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(uint64(dstChainID))
				t.DestinationChain = &dst
				t.Metadata["nonce"] = vals[3]
				return nil
			},
		},
		{
			Name:      "Redeem",
			Signature: "Redeem(address,address,uint256,uint64)",
			EventType: transfer.EventRedeem,
			Side:      SideDestination,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint64")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				token := vals[0].(common.Address)
				amount := vals[1].(*big.Int)
				setDestination(t, raw.Topics[1].Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				return nil
			},
		},
	})
}
