package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The two platform contracts are external black boxes; only the function
// surface below is relied on. Tiers match the contract's uint8 encoding.
const (
	TierNone       uint8 = 0
	TierAdmin      uint8 = 1
	TierSuperAdmin uint8 = 2
)

var (
	RegistryABI abi.ABI
	MarketABI   abi.ABI
)

const registryABIJSON = `[
{"type":"function","name":"grantRole","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"tier","type":"uint8"}],"outputs":[]},
{"type":"function","name":"revokeRole","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"tier","type":"uint8"}],"outputs":[]},
{"type":"function","name":"isAdmin","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isSuperAdmin","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getAdmins","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"approveProject","stateMutability":"nonpayable","inputs":[{"name":"project","type":"address"}],"outputs":[]},
{"type":"function","name":"revokeProject","stateMutability":"nonpayable","inputs":[{"name":"project","type":"address"}],"outputs":[]},
{"type":"function","name":"removeProject","stateMutability":"nonpayable","inputs":[{"name":"project","type":"address"}],"outputs":[]},
{"type":"function","name":"getProjects","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"getProject","stateMutability":"view","inputs":[{"name":"project","type":"address"}],"outputs":[{"name":"approved","type":"bool"},{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"energyGenerated","type":"uint256"}]},
{"type":"function","name":"mintCertificate","stateMutability":"nonpayable","inputs":[{"name":"project","type":"address"},{"name":"uri","type":"string"},{"name":"energy","type":"uint256"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
{"type":"function","name":"totalCertificates","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getCertificate","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"},{"name":"project","type":"address"},{"name":"uri","type":"string"},{"name":"energy","type":"uint256"}]}
]`

const marketABIJSON = `[
{"type":"function","name":"listToken","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[{"name":"listingId","type":"uint256"}]},
{"type":"function","name":"buyToken","stateMutability":"payable","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"buyFraction","stateMutability":"payable","inputs":[{"name":"listingId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"fractionalize","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"totalEnergy","type":"uint256"},{"name":"energyPerToken","type":"uint256"},{"name":"name","type":"string"},{"name":"symbol","type":"string"}],"outputs":[]},
{"type":"function","name":"cancelListing","stateMutability":"nonpayable","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"listingCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[{"name":"seller","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"},{"name":"totalEnergy","type":"uint256"},{"name":"energyPerToken","type":"uint256"},{"name":"remainingTokens","type":"uint256"}]}
]`

func init() {
	var err error
	RegistryABI, err = abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("registry abi: " + err.Error())
	}
	MarketABI, err = abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		panic("market abi: " + err.Error())
	}
}
