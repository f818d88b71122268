package remote

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	Authenticate(registry string) (username, password string, err error)
}

// DefaultAuthenticator defers to the Docker keychain. It returns no
// credentials so OCIStore falls back to authn.DefaultKeychain.
type DefaultAuthenticator struct{}

// NewDefaultAuthenticator creates a default authenticator.
func NewDefaultAuthenticator() *DefaultAuthenticator {
	return &DefaultAuthenticator{}
}

// Authenticate returns empty credentials.
func (a *DefaultAuthenticator) Authenticate(registry string) (string, string, error) {
	return "", "", nil
}

// StaticAuthenticator returns fixed credentials for every registry.
type StaticAuthenticator struct {
	Username string
	Password string
}

// Authenticate returns the configured credentials.
func (a StaticAuthenticator) Authenticate(registry string) (string, string, error) {
	return a.Username, a.Password, nil
}
