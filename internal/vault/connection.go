package vault

import (
	"time"

	"github.com/google/uuid"
)

// ProviderGoogle is the only provider currently supported.
const ProviderGoogle = "google"

// connectionNamespace scopes the deterministic connection ids.
var connectionNamespace = uuid.MustParse("6f1c7c56-7c1e-4f0a-9a55-2b8f0f3c9d21")

// Connection is the stored credential for one owner's mailbox.
// Token fields hold ciphertext whenever encryption is enabled.
type Connection struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ConnectionID returns the id of the connection for (ownerID, provider).
// There is at most one connection per pair, so reconnecting replaces it.
func ConnectionID(ownerID, provider string) string {
	return uuid.NewSHA1(connectionNamespace, []byte(provider+"|"+ownerID)).String()
}
