package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// NormalizeAddress validates a token address for the chain kind and returns
// its canonical stored form: lowercase hex for EVM, unchanged base58 for Solana.
func NormalizeAddress(kind Kind, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	switch kind {
	case KindEVM:
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("invalid EVM address %q", addr)
		}
		return strings.ToLower(common.HexToAddress(addr).Hex()), nil
	case KindSolana:
		if len(addr) < 32 || len(addr) > 44 {
			return "", fmt.Errorf("invalid Solana address %q: length %d", addr, len(addr))
		}
		for _, r := range addr {
			if !strings.ContainsRune(base58Alphabet, r) {
				return "", fmt.Errorf("invalid Solana address %q: bad character %q", addr, r)
			}
		}
		return addr, nil
	default:
		if addr == "" {
			return "", fmt.Errorf("empty address")
		}
		return addr, nil
	}
}
