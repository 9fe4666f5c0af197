package registry

import "regexp"

// Player identifiers are either a 17-digit steam64 id or a 32-hex-digit
// game-service UUID. Backends that address players by identifier type use
// this to pick the right one.
type PlayerIDKind string

const (
	PlayerIDSteam   PlayerIDKind = "steam64"
	PlayerIDUUID    PlayerIDKind = "uuid"
	PlayerIDUnknown PlayerIDKind = "unknown"
)

var (
	steamIDPattern = regexp.MustCompile(`^\d{17}$`)
	uuidPattern    = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

func ClassifyPlayerID(id string) PlayerIDKind {
	switch {
	case steamIDPattern.MatchString(id):
		return PlayerIDSteam
	case uuidPattern.MatchString(id):
		return PlayerIDUUID
	default:
		return PlayerIDUnknown
	}
}
