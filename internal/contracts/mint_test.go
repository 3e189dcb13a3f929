package contracts

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMintABI(t *testing.T) {
	parsed, err := ParseMintABI(MintMethods{ReadyMethod: "saleIsActive", PriceMethod: "cost", MintMethod: "publicMint"})
	require.NoError(t, err)

	require.Contains(t, parsed.Methods, "saleIsActive")
	require.Contains(t, parsed.Methods, "cost")
	require.Contains(t, parsed.Methods, "publicMint")
	assert.True(t, parsed.Methods["publicMint"].IsPayable())
	assert.True(t, parsed.Methods["saleIsActive"].IsConstant())

	data, err := parsed.Pack("publicMint", big.NewInt(2))
	require.NoError(t, err)
	assert.Len(t, data, 4+32)
}

func TestParseMintABIWithoutPrice(t *testing.T) {
	parsed, err := ParseMintABI(MintMethods{ReadyMethod: "mintActive", MintMethod: "mint"})
	require.NoError(t, err)
	assert.Len(t, parsed.Methods, 2)
}

func TestParseMintABIRequiresMethods(t *testing.T) {
	_, err := ParseMintABI(MintMethods{ReadyMethod: "mintActive"})
	require.Error(t, err)
}
