/*
Package remote implements the callback API node daemons use to report on
work the control plane asked them to do.

# Authentication

Daemons authenticate with "Authorization: Bearer <tokenId>.<token>". The
token id selects the node and the token is compared in constant time with
the node's decrypted secret. Every failure returns the same 403 body; the
reason is only logged at debug level. Authenticated requests are rate
limited per node with a token bucket.

# Ownership

A daemon may only report on servers placed on its own node. Transfer
outcomes are the exception in one direction only: they are reported by the
destination node, which does not own the server until the transfer commits.

# Callbacks

  - install: clears or fails the server's install status (idempotent)
  - backups: presigns s3 uploads and finalizes backups
  - restore: clears or fails the restoring status
  - archive: the source finished archiving a server being transferred
  - transfer: the destination finished or abandoned a transfer
  - reset: a restarted daemon returns its stuck servers to healthy
  - activity: batches of daemon activity written to the audit log
*/
package remote
