package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Only the product type (the first return word) of products(bytes32) is
// read, so the output list is not declared.
const productRegistryJSON = `[
  {"type":"function","name":"products","stateMutability":"view","inputs":[{"name":"productId","type":"bytes32"}],"outputs":[]}
]`

const marginRegistryJSON = `[
  {"type":"function","name":"getMarginAccount","stateMutability":"view","inputs":[{"name":"collateralAsset","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

const marginAccountJSON = `[
  {"type":"function","name":"capital","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"int256"}]}
]`

var (
	erc20ABI           = mustParse(erc20JSON)
	productRegistryABI = mustParse(productRegistryJSON)
	marginRegistryABI  = mustParse(marginRegistryJSON)
	marginAccountABI   = mustParse(marginAccountJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
