package auth

import (
	"strconv"
	"strings"
)

// AuthorizeChannel decides whether identity may join a broadcast channel.
// Channels named "<topic>.<zoneId>" are zone scoped; "<topic>.global" is open to any viewer.
func AuthorizeChannel(identity Identity, channel string) error {
	if !RoleAtLeast(identity.Role, RoleViewer) {
		return ErrForbidden
	}
	topic, scope, ok := strings.Cut(channel, ".")
	if !ok || topic == "" || scope == "" {
		return ErrForbidden
	}
	if scope == "global" {
		return nil
	}
	zoneID, err := strconv.ParseInt(scope, 10, 64)
	if err != nil || zoneID <= 0 || strconv.FormatInt(zoneID, 10) != scope {
		return ErrForbidden
	}
	if !identity.HasZone(zoneID) {
		return ErrZoneNotAllowed
	}
	return nil
}
