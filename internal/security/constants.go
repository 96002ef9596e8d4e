package security

const (
	// DefaultKeyringService is the keyring service name entries are filed under.
	DefaultKeyringService = "blockterm"

	errKeyringNotAvailable = "keyring not available"
	keySSHPassphraseFmt    = "ssh-passphrase:%s"
	keyServerFmt           = "server:%s@%s"
	probeKey               = "__blockterm_probe__"
)
