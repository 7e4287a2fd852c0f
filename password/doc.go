// Package password provides argon2id password hashing and verification in
// PHC string format, with parameter-upgrade detection for re-hash-on-login
// policies.
package password
