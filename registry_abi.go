package ipregistry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method and event names of the registry contract.
const (
	MethodRegisterIP        = "registerIP"
	MethodGetIP             = "getIP"
	MethodGetHistory        = "getHistory"
	MethodTransferOwnership = "transferOwnership"
	MethodUpdateIP          = "updateIP"
	MethodVerifyOwnership   = "verifyOwnership"

	EventIPRegistered         = "IPRegistered"
	EventOwnershipTransferred = "OwnershipTransferred"
	EventIPUpdated            = "IPUpdated"
)

// RegistryABI is the interface of the deployed IP registry.
const RegistryABI = `[
	{"type":"function","name":"registerIP","stateMutability":"nonpayable",
	 "inputs":[{"name":"_type","type":"uint8"},{"name":"_title","type":"string"},{"name":"_metadata","type":"string"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getIP","stateMutability":"view",
	 "inputs":[{"name":"_id","type":"uint256"}],
	 "outputs":[{"name":"id","type":"uint256"},{"name":"ipType","type":"uint8"},{"name":"title","type":"string"},
	            {"name":"metadata","type":"string"},{"name":"owner","type":"address"},{"name":"createdAt","type":"uint256"},
	            {"name":"active","type":"bool"}]},
	{"type":"function","name":"getHistory","stateMutability":"view",
	 "inputs":[{"name":"_id","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple[]","internalType":"struct IPRegistry.Transfer[]",
	             "components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"timestamp","type":"uint256"}]}]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable",
	 "inputs":[{"name":"_id","type":"uint256"},{"name":"_newOwner","type":"address"}],"outputs":[]},
	{"type":"function","name":"updateIP","stateMutability":"nonpayable",
	 "inputs":[{"name":"_id","type":"uint256"},{"name":"_newTitle","type":"string"},{"name":"_newMetadata","type":"string"}],"outputs":[]},
	{"type":"function","name":"verifyOwnership","stateMutability":"view",
	 "inputs":[{"name":"_id","type":"uint256"},{"name":"_claimant","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"IPRegistered","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},
	           {"name":"ipType","type":"uint8","indexed":false},{"name":"title","type":"string","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"from","type":"address","indexed":true},
	           {"name":"to","type":"address","indexed":true}]},
	{"type":"event","name":"IPUpdated","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"newTitle","type":"string","indexed":false},
	           {"name":"newMetadata","type":"string","indexed":false}]},
	{"type":"error","name":"NotOwner","inputs":[{"name":"caller","type":"address"},{"name":"id","type":"uint256"}]},
	{"type":"error","name":"UnknownIP","inputs":[{"name":"id","type":"uint256"}]}
]`

// ParseRegistryABI parses RegistryABI.
func ParseRegistryABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(RegistryABI))
}
