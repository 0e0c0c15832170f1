package model

// CredentialKind tags the union of supported credential types (spec §3).
type CredentialKind string

const (
	CredentialUserPass CredentialKind = "userpass"
	CredentialUserSSHKey CredentialKind = "user_ssh_key"
	CredentialSNMPv1   CredentialKind = "snmp_v1"
	CredentialSNMPv3   CredentialKind = "snmp_v3"
	CredentialKerberos CredentialKind = "kerberos"
	CredentialStoreRef CredentialKind = "credential_store_ref"
)

// Credential is a tagged union over the kinds above. Secrets are decrypted
// just-in-time by the persistence collaborator (out of scope here) and
// handed to the core as plaintext bytes which MUST be zeroised by the
// caller once the scanner session holding them is closed.
type Credential struct {
	UUID     string
	Kind     CredentialKind
	Username string
	// Secret holds the decrypted password/key/community-string/etc. Callers
	// must call Zero() when done.
	Secret []byte
	// Extra carries kind-specific fields (e.g. SNMPv3 auth/priv algorithms,
	// Kerberos realm/KDC) as a flat string map to avoid one struct per kind.
	Extra map[string]string
}

// Zero overwrites Secret in place so the plaintext does not linger in
// memory after use (spec §5 shared-resource policy).
func (c *Credential) Zero() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
	c.Secret = nil
}
