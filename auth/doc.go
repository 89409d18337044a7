// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides identity, session and token utilities.

# Wallet Sign-In

Users sign a one-time nonce with their Ethereum wallet (personal_sign):

	msg := auth.LoginMessage(auth.ChecksumAddress(addr), nonce)
	signer, err := auth.RecoverAddress(msg, signatureHex)

RecoverAddress hashes the message with the personal_sign prefix using
Keccak-256 and recovers the secp256k1 public key from the 65-byte r||s||v
signature. Addresses are compared lower-cased (NormalizeAddress) and shown
in EIP-55 form (ChecksumAddress).

# Sessions

Sessions are HS256 JWTs carrying the user ID as subject and the wallet:

	token, expires, err := auth.IssueSession(secret, userID, wallet, ttl, time.Now())
	claims, err := auth.ParseSession(secret, token)

# Second Factor

	secret, url, err := auth.NewTOTPSecret(wallet)
	ok := auth.ValidateTOTP(code, secret)

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters

ShortSlug derives a short base62 suffix from an ID and salt. HashIP stores
client IPs as salted hashes.
*/
package auth
