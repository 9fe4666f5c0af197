package registry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an integration backend. The kind of a persisted
// integration never changes; see Registry.Load.
type Kind string

const (
	KindBattlemetrics Kind = "battlemetrics"
	KindCRCON         Kind = "crcon"
)

func ParseKind(v string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(v))) {
	case KindBattlemetrics:
		return KindBattlemetrics, true
	case KindCRCON:
		return KindCRCON, true
	default:
		return "", false
	}
}

// Config is the persisted configuration of one integration. Settings holds
// the backend-specific fields as JSON and is decoded through the kind's
// Definition.
type Config struct {
	ID          int64
	CommunityID int64
	Kind        Kind
	Enabled     bool
	Settings    []byte
	CreatedOn   time.Time
	UpdatedOn   time.Time
}

// Community is the owning community of an integration, as far as this core
// needs to know it: identity plus the fields that end up in ban reasons.
type Community struct {
	ID         int64
	Name       string
	Tag        string
	ContactURL string
}

// Decision is one community's verdict for one reported player. It is produced
// by the upstream report workflow and consumed exactly once by the Dispatcher.
type Decision struct {
	PlayerID    string   `json:"player_id"`
	CommunityID int64    `json:"community_id"`
	Banned      bool     `json:"banned"`
	Reasons     []string `json:"reasons"`
}

// BanRecord proves that a specific integration holds a specific remote ban
// for a specific player. At most one record exists per (player, integration),
// enforced by the store's uniqueness constraint.
type BanRecord struct {
	PlayerID      string
	IntegrationID int64
	RemoteID      string
	CreatedOn     time.Time
}

// Metadata describes an integration backend.
type Metadata struct {
	Kind        Kind
	DisplayName string

	// AdoptsRemoteBans controls whether Synchronize creates local records for
	// active remote bans it does not recognize. Neither current backend does;
	// both expire the remote ban instead.
	AdoptsRemoteBans bool
}

type Op string

const (
	OpBan   Op = "ban"
	OpUnban Op = "unban"
)

// Command captures a single ban or unban call against one integration with
// enough state to replay it verbatim. Failed dispatch branches are reported
// carrying one of these so an operator can retry later.
type Command struct {
	ID            uuid.UUID `json:"id"`
	Op            Op        `json:"op"`
	IntegrationID int64     `json:"integration_id"`
	CommunityID   int64     `json:"community_id"`
	PlayerID      string    `json:"player_id"`
	Reasons       []string  `json:"reasons,omitempty"`
}

func NewCommand(op Op, integrationID int64, decision Decision) Command {
	return Command{
		ID:            uuid.New(),
		Op:            op,
		IntegrationID: integrationID,
		CommunityID:   decision.CommunityID,
		PlayerID:      decision.PlayerID,
		Reasons:       decision.Reasons,
	}
}

// Decision reconstructs the decision a command was captured from.
func (c Command) Decision() Decision {
	return Decision{
		PlayerID:    c.PlayerID,
		CommunityID: c.CommunityID,
		Banned:      c.Op == OpBan,
		Reasons:     c.Reasons,
	}
}

// Event is a notification destined for the external UI collaborator: a failed
// dispatch branch, a disabled integration, an unrecognized remote ban.
type Event struct {
	CommunityID   int64
	IntegrationID int64
	Kind          Kind
	PlayerID      string
	Title         string
	Message       string
	Err           error
	Retry         *Command
	At            time.Time
}

// Reporter delivers events to the notification sink. Implementations must not
// block the caller longer than a network write.
type Reporter interface {
	Report(e Event)
}
