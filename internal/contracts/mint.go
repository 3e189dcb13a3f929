package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MintMethods names the three contract functions the minter calls.
// PriceMethod may be empty when the contract exposes no price getter.
type MintMethods struct {
	ReadyMethod string
	PriceMethod string
	MintMethod  string
}

const (
	readyFragment = `{"type":"function","name":%q,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}`
	priceFragment = `{"type":"function","name":%q,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}`
	mintFragment  = `{"type":"function","name":%q,"stateMutability":"payable","inputs":[{"name":"quantity","type":"uint256"}],"outputs":[]}`
)

// MintABIJSON renders the ABI for the configured method names.
func MintABIJSON(m MintMethods) string {
	fragments := []string{
		fmt.Sprintf(readyFragment, m.ReadyMethod),
		fmt.Sprintf(mintFragment, m.MintMethod),
	}
	if m.PriceMethod != "" {
		fragments = append(fragments, fmt.Sprintf(priceFragment, m.PriceMethod))
	}
	return "[" + strings.Join(fragments, ",") + "]"
}

// ParseMintABI returns the parsed ABI for the configured method names.
func ParseMintABI(m MintMethods) (abi.ABI, error) {
	if m.ReadyMethod == "" || m.MintMethod == "" {
		return abi.ABI{}, fmt.Errorf("ready and mint methods are required")
	}
	parsed, err := abi.JSON(strings.NewReader(MintABIJSON(m)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse mint abi: %w", err)
	}
	return parsed, nil
}
