package ports

// CredentialStore resolves stored secrets for remote logins.
// Implementations must be safe for concurrent reads.
type CredentialStore interface {
	// Lookup returns the secret stored for username on host.
	// The returned slice is owned by the caller, who may wipe it.
	Lookup(host, username string) ([]byte, bool)
}
