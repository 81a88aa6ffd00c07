// Package delivery defines the contract every transport entry point satisfies.
package delivery

import "context"

// Delivery is a server that accepts external traffic. Serve blocks until the
// server stops or fails.
type Delivery interface {
	Serve(ctx context.Context) error
}
