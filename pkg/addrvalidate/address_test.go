package addrvalidate

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidateContract_RejectsZeroAddress(t *testing.T) {
	_, err := ValidateContract("0x0000000000000000000000000000000000000000")
	if !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestValidateContract_RejectsMalformedAddress(t *testing.T) {
	_, err := ValidateContract("not-an-address")
	if err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestValidateContract_AcceptsWellFormedAddress(t *testing.T) {
	addr, err := ValidateContract("0x8731d54E9D02c286767d56ac03e8037C07e01e98")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr == (common.Address{}) {
		t.Fatal("expected a non-zero address")
	}
}

func TestLowercase_StripsPrefix(t *testing.T) {
	got := Lowercase("0xAAAA000000000000000000000000000000000001")
	want := "aaaa000000000000000000000000000000000001"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRecipientFromTopic(t *testing.T) {
	var topic [32]byte
	addr := common.HexToAddress("0x8731d54E9D02c286767d56ac03e8037C07e01e98")
	copy(topic[12:], addr.Bytes())

	got := RecipientFromTopic(topic)
	want := "8731d54e9d02c286767d56ac03e8037c07e01e98"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
