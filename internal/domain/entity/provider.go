// Package entity contains the core business objects of the project.
package entity

// Provider represents an external identity provider that issues signed ID tokens.
type Provider string

const (
	// ProviderGoogle indicates a Google Sign-In identity.
	ProviderGoogle Provider = "google"
	// ProviderApple indicates a Sign in with Apple identity.
	ProviderApple Provider = "apple"
)

// String returns the string representation of the Provider.
func (p Provider) String() string {
	return string(p)
}

// IsValid checks if the Provider is a supported value.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderApple:
		return true
	default:
		return false
	}
}
