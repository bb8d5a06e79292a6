// Package addrvalidate checksums and validates 20-byte EVM addresses for
// observer contract configuration and decoded event fields.
package addrvalidate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrZeroAddress is returned when a configured contract address is the
// all-zero placeholder. Per the spec's open question, these are treated as
// disabled observers and must never be started against a live contract.
var ErrZeroAddress = fmt.Errorf("zero address is a disabled-observer placeholder, not a valid target")

// ValidateContract checks that addr is a well-formed, non-placeholder EVM
// address suitable for configuring a Bridge Observer.
func ValidateContract(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%q is not a valid hex address", addr)
	}
	a := common.HexToAddress(addr)
	if a == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}
	return a, nil
}

// Checksum returns the EIP-55 checksummed representation.
func Checksum(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%q is not a valid hex address", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// Lowercase returns the address lowercased without a 0x prefix, the
// canonical storage form used by CrossChainTransfer.
func Lowercase(addr string) string {
	return strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

// RecipientFromTopic extracts a left-padded 32-byte topic word's last 20
// bytes as a recipient address, the pattern used by decoders whose events
// carry addresses as indexed topics rather than ABI-packed arguments.
func RecipientFromTopic(topic [32]byte) string {
	return strings.ToLower(common.BytesToAddress(topic[:]).Hex()[2:])
}
