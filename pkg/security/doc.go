/*
Package security holds the credential handling shared by the daemon RPC client
and the remote callback API.

Every node daemon owns a token pair: a public token identifier and a secret.
The secret is stored encrypted with the application key (TokenCodec) and is
presented in both directions as

	Authorization: Bearer <tokenId>.<token>

TokenCodec uses AES-256-GCM with a random nonce prepended to the ciphertext.
The AES key is derived from the application key with HKDF-SHA256; the key is
read from the first non-empty variable in DefaultKeyEnv. Without a key the
codec still constructs, but every Encrypt and Decrypt call fails with a
configuration error so misconfiguration surfaces as a 5xx instead of a panic
at boot.

ConstantTimeEqual must be used whenever a presented token is compared with a
stored one.
*/
package security
