package chains

import "fmt"

// chainNames maps chain IDs to their names
var chainNames = map[int64]string{
	1:        "ETHEREUM",
	11155111: "SEPOLIA",
	17000:    "HOLESKY",
	8453:     "BASE",
	84532:    "BASE_SEPOLIA",
	42161:    "ARBITRUM",
	421614:   "ARBITRUM_SEPOLIA",
	1337:     "DEVNET",
	31337:    "DEVNET",
}

// explorerTxURLs maps chain IDs to the transaction page prefix of their block explorer
var explorerTxURLs = map[int64]string{
	1:        "https://etherscan.io/tx/",
	11155111: "https://sepolia.etherscan.io/tx/",
	17000:    "https://holesky.etherscan.io/tx/",
	8453:     "https://basescan.org/tx/",
	84532:    "https://sepolia.basescan.org/tx/",
	42161:    "https://arbiscan.io/tx/",
	421614:   "https://sepolia.arbiscan.io/tx/",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int64) string {
	name, exists := chainNames[chainID]
	if !exists {
		return fmt.Sprintf("CHAIN_%d", chainID)
	}
	return name
}

// TxURL returns the explorer link for a transaction, or an empty string for chains without an explorer
func TxURL(chainID int64, txHash string) string {
	prefix, exists := explorerTxURLs[chainID]
	if !exists {
		return ""
	}
	return prefix + txHash
}
