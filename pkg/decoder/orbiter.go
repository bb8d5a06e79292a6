package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// NewOrbiterDecoder recognizes Orbiter Finance's single-sided
// TransferToken event, which Orbiter's off-chain relayer matches to an
// independent destination-chain payout; the fleet only observes the
// source-side log here, so records from this decoder are often half-sided
// until the Correlator's sweep finds the counterpart from a different
// Observer instance pointed at the destination contract.
func NewOrbiterDecoder() *ProtocolDecoder {
	return NewProtocolDecoder(transfer.ProtocolOrbiter, []EventSpec{
		{
			Name:      "TransferToken",
			Signature: "TransferToken(address,address,uint256,uint256)",
			EventType: transfer.EventTransferTokens,
			Side:      SideSource,
			DataArgs: abi.Arguments{
				{Type: mustType("address")},
				{Type: mustType("uint256")},
				{Type: mustType("uint256")},
			},
			Map: func(vals []interface{}, raw chain.RawLog, t *transfer.CrossChainTransfer) error {
				token := vals[0].(common.Address)
				amount := vals[1].(*big.Int)
				routeCode := vals[2].(*big.Int)
				setSource(t, raw.Topics[1].Hex()[2:])
				setToken(t, token)
				setAmount(t, amount)
				t.Metadata["routeCode"] = routeCode.String()
				return nil
			},
		},
	})
}
