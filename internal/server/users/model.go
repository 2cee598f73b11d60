package users

import "time"

// User is the scoping identity for all encrypted records. The account row
// itself is not encrypted by the record layer: salt and verifier must be
// readable before any key is unlocked, and the verifier is a one-way hash.
type User struct {
	ID              string
	UserName        string
	Salt            []byte
	Verifier        []byte
	IsAdmin         bool
	OIDCSubject     string
	TOTPSecret      string
	TOTPBackupCodes string
	CreatedAt       time.Time
}
