package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// weiPerUnit is 10^18, the scale of the chain-native unit.
var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseAmount converts a decimal string in chain-native units to wei using
// exact integer arithmetic. It rejects empty, negative, zero, and malformed
// inputs, and any value with more than 18 fractional digits.
func ParseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: empty amount")
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return nil, fmt.Errorf("chain: amount %q must be an unsigned decimal", s)
	}

	whole := trimmed
	frac := ""
	if dot := strings.IndexByte(trimmed, '.'); dot >= 0 {
		whole = trimmed[:dot]
		frac = trimmed[dot+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, fmt.Errorf("chain: malformed amount %q", s)
		}
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("chain: malformed amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("chain: amount %q exceeds 18 decimal places", s)
	}

	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("chain: malformed amount %q", s)
	}
	wei := new(big.Int).Mul(wholeInt, weiPerUnit)

	if frac != "" {
		// Right-pad the fraction to 18 digits so "0.1" scales to 10^17.
		padded := frac + strings.Repeat("0", 18-len(frac))
		fracInt, ok := new(big.Int).SetString(padded, 10)
		if !ok {
			return nil, fmt.Errorf("chain: malformed amount %q", s)
		}
		wei.Add(wei, fracInt)
	}

	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("chain: amount %q must be positive", s)
	}
	return wei, nil
}
