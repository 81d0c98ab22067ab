package chain

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/saiset-co/sai-chainsync/types"
)

const wordSize = 32

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Selector returns the 4-byte function selector of a signature such as "balanceOf(address)".
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// EncodeCall concatenates the selector of signature with already encoded argument words.
func EncodeCall(signature string, args ...[]byte) []byte {
	data := make([]byte, 0, 4+len(args)*wordSize)
	data = append(data, Selector(signature)...)
	for _, arg := range args {
		data = append(data, arg...)
	}
	return data
}

func EncodeAddress(address string) ([]byte, error) {
	raw, err := DecodeHex(address)
	if err != nil {
		return nil, err
	}

	if len(raw) != 20 {
		return nil, types.Errorf(types.ErrInvalidParameter, "address %q is %d bytes", address, len(raw))
	}

	word := make([]byte, wordSize)
	copy(word[wordSize-len(raw):], raw)
	return word, nil
}

func EncodeUint256(value *big.Int) ([]byte, error) {
	if value == nil || value.Sign() < 0 || value.Cmp(maxUint256) > 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "value %v does not fit uint256", value)
	}
	return value.FillBytes(make([]byte, wordSize)), nil
}

// DecodeUint256 reads the index-th word of an ABI encoded return value.
func DecodeUint256(data []byte, index int) (*big.Int, error) {
	start := index * wordSize
	if index < 0 || len(data) < start+wordSize {
		return nil, types.Errorf(types.ErrMalformedResponse, "return data has %d bytes, word %d requested", len(data), index)
	}
	return new(big.Int).SetBytes(data[start : start+wordSize]), nil
}

func DecodeBool(data []byte, index int) (bool, error) {
	n, err := DecodeUint256(data, index)
	if err != nil {
		return false, err
	}

	switch {
	case n.Sign() == 0:
		return false, nil
	case n.Cmp(big.NewInt(1)) == 0:
		return true, nil
	default:
		return false, types.Errorf(types.ErrMalformedResponse, "word %d is not a bool", index)
	}
}

func EncodeHex(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, types.Errorf(types.ErrMalformedResponse, "invalid hex: %v", err)
	}
	return data, nil
}

// DecodeQuantity parses a JSON-RPC hex quantity such as "0x1b4".
func DecodeQuantity(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == s || trimmed == "" {
		return nil, types.Errorf(types.ErrMalformedResponse, "invalid quantity %q", s)
	}

	n, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, types.Errorf(types.ErrMalformedResponse, "invalid quantity %q", s)
	}
	return n, nil
}

// ToDecimal converts base units to a token amount with the given decimals.
func ToDecimal(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// FromDecimal converts a token amount to base units, truncating extra precision.
func FromDecimal(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
