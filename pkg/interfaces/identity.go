package interfaces

import "chatgate/pkg/types"

// IdentityVerifier validates an externally issued credential
// FUNCTIONAL DISCOVERY: the gateway never issues credentials, it only consumes them
type IdentityVerifier interface {
	Verify(token string) (*types.Identity, error)
}
