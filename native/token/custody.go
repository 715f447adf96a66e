package token

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// CustodyAddress derives the ledger's reserve account from a fixed tag, so
// every deployment agrees on where custody lives without configuration.
func CustodyAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("stakeledger:custody:v1"))
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}
