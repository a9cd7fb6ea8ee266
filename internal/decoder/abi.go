package decoder

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const conditionalTokenABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "TransferSingle",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256[]", "name": "ids", "type": "uint256[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "values", "type": "uint256[]"}
    ],
    "name": "TransferBatch",
    "type": "event"
  }
]`

const stablecoinABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

var (
	conditionalTokenABI     abi.ABI
	conditionalTokenABIOnce sync.Once
	conditionalTokenABIErr  error

	stablecoinABI     abi.ABI
	stablecoinABIOnce sync.Once
	stablecoinABIErr  error
)

// ConditionalTokenABI returns the parsed ERC1155 conditional-token ABI.
func ConditionalTokenABI() (abi.ABI, error) {
	conditionalTokenABIOnce.Do(func() {
		conditionalTokenABI, conditionalTokenABIErr = abi.JSON(strings.NewReader(conditionalTokenABIJSON))
	})
	return conditionalTokenABI, conditionalTokenABIErr
}

// StablecoinABI returns the parsed ERC20 transfer ABI.
func StablecoinABI() (abi.ABI, error) {
	stablecoinABIOnce.Do(func() {
		stablecoinABI, stablecoinABIErr = abi.JSON(strings.NewReader(stablecoinABIJSON))
	})
	return stablecoinABI, stablecoinABIErr
}
