// Package constants defines shared domain-level constant values.
package constants

// Environment names
const (
	EnvDevelop    = "develop"
	EnvProduction = "production"
)

// Pub/Sub provider names
const (
	PubSubProviderLocal  = "local"
	PubSubProviderGoogle = "google"
)
