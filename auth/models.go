package auth

// User binds an external login identity to an on-ledger account. The account
// id is what ensure-signed extraction hands to the state-transition core; the
// core itself never sees emails, passphrases, or tokens.
type User struct {
	AccountID      string
	Email          string
	PassphraseHash string
}

// RegisterRequest contains signup data supplied by callers.
type RegisterRequest struct {
	Email      string `json:"email"`
	Passphrase string `json:"passphrase"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email      string `json:"email"`
	Passphrase string `json:"passphrase"`
}

// LoginResult bundles the session token and user after a successful login.
type LoginResult struct {
	Token string
	User  User
}
