package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/addrvalidate"
	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewWormholeDecoder recognizes Wormhole's TransferTokens (source) and
// TransferRedeemed (destination) events.
func NewWormholeDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolWormhole, []EventSpec{
		{
			Name:      "TransferTokens",
			Signature: "TransferTokens(address,address,uint256,uint16,bytes32,uint32)",
			EventType: transfer.EventTransferTokens,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint16")},
				{Type: mustType("bytes32")},
				{Type: mustType("uint32")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				token := vals[0].(common.Address)
				amount := vals[1].(*big.Int)
				dstChainID := vals[2].(uint16)
				recipient := vals[3].([32]byte)
				setSource(t, raw.Topics[1].Hex()[2:])
				t.DestinationAddress = ptr(addrvalidate.RecipientFromTopic(recipient))
				setToken(t, token)
				setAmount(t, amount)
				dst := transfer.ChainTagFromID(uint64(dstChainID))
				t.DestinationChain = &dst
				return nil
			},
		},
		{
			Name:      "TransferRedeemed",
			Signature: "TransferRedeemed(uint16,bytes32,uint64)",
			EventType: transfer.EventRedeem,
			Side:      SideDestination,
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				srcChainID := raw.Topics[1].Big().Uint64()
				src := transfer.ChainTagFromID(srcChainID)
				t.SourceChain = &src
				t.Metadata["emitterAddress"] = raw.Topics[2].Hex()
				return nil
			},
		},
	})
}
