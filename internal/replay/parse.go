package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Amount is a token amount in base units. Operation logs may write it as a
// JSON number, a decimal string or a 0x-prefixed hex string.
type Amount uint64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' {
		v, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %s: %w", data, err)
		}
		*a = Amount(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAmount parses a decimal or 0x-prefixed hex amount.
func ParseAmount(input string) (Amount, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		digits := strings.TrimLeft(input[2:], "0")
		if digits == "" {
			digits = "0"
		}
		v, err := hexutil.DecodeUint64("0x" + digits)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", input, err)
		}
		return Amount(v), nil
	}
	v, err := strconv.ParseUint(input, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", input, err)
	}
	return Amount(v), nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseKey converts a 0x-prefixed 32-byte hex string into a record key.
func ParseKey(input string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(input))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid key: %q", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid key length: %q", input)
	}
	return common.BytesToHash(data), nil
}
