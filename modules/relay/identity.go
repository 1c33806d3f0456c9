package relay

import (
	"context"
	"strings"

	"github.com/example/ride-chat-relay/domain/ride"
)

// Handshake holds the join parameters of a connection request.
type Handshake struct {
	RideID   string
	UserID   string
	UserName string
}

// IdentityResolver turns handshake parameters into a participant identity.
// An error rejects the connection before the upgrade.
type IdentityResolver interface {
	Resolve(ctx context.Context, hs Handshake) (ride.Identity, error)
}

// QueryResolver trusts the parameters supplied by the client.
// Nobody is treated as a driver.
type QueryResolver struct{}

// Resolve implements IdentityResolver.
func (QueryResolver) Resolve(_ context.Context, hs Handshake) (ride.Identity, error) {
	name := strings.TrimSpace(hs.UserName)
	if name == "" {
		name = ride.DefaultDisplayName
	}
	return ride.Identity{
		UserID:      hs.UserID,
		DisplayName: name,
	}, nil
}
