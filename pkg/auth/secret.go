package auth

// SecretStore is the external secure-storage collaborator used to persist
// credentials between runs. tapir only calls this interface; it never
// implements secret storage itself.
type SecretStore interface {
	Store(host, principal, secret string) error
	Retrieve(host, principal string) (string, error)
	Delete(host, principal string) error
}
