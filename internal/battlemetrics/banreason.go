package battlemetrics

import (
	"fmt"
	"strings"

	"github.com/palisade-gg/palisade/internal/registry"
)

// maxReasonLen is the hard character limit Battlemetrics imposes on ban
// reasons.
const maxReasonLen = 255

// BanReason composes the remote ban reason. It uses the community tag rather
// than the full name and strips URL schemes to stay under the 255 character
// limit; if the reasons still do not fit they are truncated.
func BanReason(reasons []string, community registry.Community) string {
	message := strings.ReplaceAll(fmt.Sprintf(
		"Banned by %s\nContact: %s",
		community.Tag, community.ContactURL,
	), "https://", "")

	const prefix = "Palisade banned for "
	budget := maxReasonLen - len(prefix) - len("\n\n") - len(message)

	joined := strings.Join(reasons, ", ")
	if len(joined) > budget {
		if budget < 2 {
			joined = ""
		} else {
			joined = joined[:budget-2] + ".."
		}
	}

	return prefix + joined + "\n\n" + message
}

// banNote is the longer operator-facing note attached to the ban; it has no
// practical length limit.
func banNote(reasons []string, community registry.Community) string {
	return fmt.Sprintf(
		"Banned for %s.\nDecision by %s (%s)",
		strings.Join(reasons, ", "), community.Name, community.ContactURL,
	)
}
