// Package stores contains the Redis record stores for ephemeral login state:
// pending auth transactions, one-time codes, and MFA enrollment. Records use
// versioned binary encodings; every multi-step mutation runs inside a WATCH
// transaction so attempt budgets and single-use guarantees hold under
// concurrent submissions.
package stores
