package cryptox

import "golang.org/x/crypto/argon2"

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

func deriveArgon2id(credential, salt []byte) []byte {
	return argon2.IDKey(credential, salt, argon2Time, argon2Memory, argon2Threads, keySize)
}
