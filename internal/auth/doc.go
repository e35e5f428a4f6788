// Package auth checks the household password.
//
// The configured secret is stored as an Argon2id PHC string
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash), never as plaintext.
// Produce one with `switchboard hash-password`.
package auth
