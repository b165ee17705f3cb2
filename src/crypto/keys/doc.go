// Package keys implements the public key cryptography used by hub nodes and
// message signers.
//
// Every message carries the public key of its signer and an ECDSA signature
// over its hash. A node also owns a key-pair which identifies it to its sync
// peers. Keys use the secp256k1 curve, so Bitcoin and Ethereum keys can be used
// to sign messages.
package keys
