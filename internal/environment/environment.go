// Package environment maps a deployment context to the on-chain addresses and
// business rules of the AFP network it targets.
package environment

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Environment identifies an AFP deployment.
type Environment string

const (
	Bakerloo Environment = "bakerloo"
	Mainnet  Environment = "mainnet"
)

// Rules are the environment-conditional checks applied to a specification.
type Rules struct {
	OracleAddress   common.Address
	CollateralAsset common.Address
	// MinWorkingDaysBeforeStart is the required lead time; zero disables the check.
	MinWorkingDaysBeforeStart int
}

var table = map[Environment]Rules{
	Bakerloo: {
		OracleAddress:   common.HexToAddress("0x72EeD9f7286292f119089F56e3068a3A931FCD49"),
		CollateralAsset: common.HexToAddress("0xDEfAaC81a079533Bf2fb004c613cc2870cF0A5b5"),
	},
	Mainnet: {
		OracleAddress:             common.HexToAddress("0x06CaDDDf6CC08048596aE051c8ce644725219C73"),
		CollateralAsset:           common.HexToAddress("0xAE2C6c29F6403fDf5A31e74CC8bFd1D75a3CcB8d"),
		MinWorkingDaysBeforeStart: 2,
	},
}

// Rules returns the rule set for e. Unknown environments return the zero Rules.
func (e Environment) Rules() Rules {
	return table[e]
}

func (e Environment) String() string { return string(e) }

// Resolve detects the environment from a deployment context such as the path
// of a specification file. The two markers are mutually exclusive; bakerloo
// wins if a malformed path carries both.
func Resolve(context string) (Environment, bool) {
	for _, env := range []Environment{Bakerloo, Mainnet} {
		name := string(env)
		if strings.Contains(context, "/"+name+"/") || strings.Contains(context, `\`+name+`\`) {
			return env, true
		}
	}
	return "", false
}

// Parse resolves an explicit environment name (case-insensitive).
func Parse(name string) (Environment, bool) {
	env := Environment(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := table[env]; !ok {
		return "", false
	}
	return env, true
}

// All lists the known environments.
func All() []Environment {
	return []Environment{Bakerloo, Mainnet}
}
