// Package model holds the entity types the identity kernel persists and
// exchanges across its components.
package model

import (
	"encoding/json"
	"time"
)

// Identity status values.
const (
	IdentityStatusActive    = "active"
	IdentityStatusSuspended = "suspended"
	IdentityStatusDeleted   = "deleted"
)

// AuthKey status values.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// Challenge types.
const (
	ChallengeTypeRegistration  = "registration"
	ChallengeTypeAuthentication = "authentication"
)

// Source status values.
const (
	SourceStatusActive      = "active"
	SourceStatusSuspended   = "suspended"
	SourceStatusDeactivated = "deactivated"
)

// SourceLink status values.
const (
	LinkStatusActive  = "active"
	LinkStatusRevoked = "revoked"
)

// FateCache status values.
const (
	CacheStatusSealed = "sealed"
	CacheStatusOpened = "opened"
)

// Cache types.
const (
	CacheTypeLevelUp   = "level_up"
	CacheTypeBossKill  = "boss_kill"
	CacheTypeMilestone = "milestone"
)

// Rarity tiers, ordered weakest-first.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Loot reward types.
const (
	RewardXPBoost = "xp_boost"
	RewardTitle   = "title"
	RewardMarker  = "marker"
	RewardGear    = "gear"
)

// Gear slots.
const (
	SlotWeapon = "weapon"
	SlotHelm   = "helm"
	SlotChest  = "chest"
	SlotArms   = "arms"
	SlotLegs   = "legs"
	SlotRune   = "rune"
)

// RootIdentity is the canonical user the kernel owns.
type RootIdentity struct {
	RootID        string     `json:"root_id" db:"root_id"`
	HeroName      string     `json:"hero_name" db:"hero_name"`
	FateAlignment string     `json:"fate_alignment" db:"fate_alignment"`
	Origin        *string    `json:"origin,omitempty" db:"origin"`
	FateXP        int64      `json:"fate_xp" db:"fate_xp"`
	FateLevel     int        `json:"fate_level" db:"fate_level"`
	Status        string     `json:"status" db:"status"`
	EnrolledBy    string     `json:"enrolled_by" db:"enrolled_by"`
	EnrolledAt    time.Time  `json:"enrolled_at" db:"enrolled_at"`
	EquippedTitle *string    `json:"equipped_title,omitempty" db:"equipped_title_id"`
}

// Persona is a display-layer alias bound to a RootIdentity.
type Persona struct {
	PersonaID string    `json:"persona_id" db:"persona_id"`
	RootID    string    `json:"root_id" db:"root_id"`
	Name      string    `json:"name" db:"name"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuthKey is a WebAuthn credential bound to a RootIdentity.
type AuthKey struct {
	KeyID        string     `json:"key_id" db:"key_id"`
	RootID       string     `json:"root_id" db:"root_id"`
	CredentialID []byte     `json:"-" db:"credential_id"`
	PublicKey    []byte     `json:"-" db:"public_key"`
	SignCount    uint64     `json:"sign_count" db:"sign_count"`
	DeviceType   string     `json:"device_type" db:"device_type"`
	BackedUp     bool       `json:"backed_up" db:"backed_up"`
	Transports   []string   `json:"transports" db:"transports"`
	FriendlyName string     `json:"friendly_name" db:"friendly_name"`
	Status       string     `json:"status" db:"status"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// WebAuthnChallenge is a short-lived one-shot nonce binding ceremony phases.
type WebAuthnChallenge struct {
	ChallengeID string          `json:"challenge_id" db:"challenge_id"`
	Challenge   string          `json:"challenge" db:"challenge"`
	Type        string          `json:"type" db:"type"`
	RootID      *string         `json:"root_id,omitempty" db:"root_id"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SessionToken is an opaque Bearer stored hash-at-rest.
type SessionToken struct {
	TokenHash string    `json:"-" db:"token_hash"`
	RootID    string    `json:"root_id" db:"root_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Source is an upstream authorized to emit events for a root identity.
type Source struct {
	SourceID    string    `json:"source_id" db:"source_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Status      string    `json:"status" db:"status"`
	APIKeyHash  string    `json:"-" db:"api_key_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SourceLink is a consent receipt granting a Source permission to mutate one RootIdentity.
type SourceLink struct {
	LinkID     string     `json:"link_id" db:"link_id"`
	RootID     string     `json:"root_id" db:"root_id"`
	SourceID   string     `json:"source_id" db:"source_id"`
	Scope      string     `json:"scope" db:"scope"`
	Status     string     `json:"status" db:"status"`
	GrantedBy  string     `json:"granted_by" db:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at" db:"granted_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy  *string    `json:"revoked_by,omitempty" db:"revoked_by"`
}

// IdentityEvent is one append-only ledger row.
type IdentityEvent struct {
	EventID        string          `json:"event_id" db:"event_id"`
	RootID         string          `json:"root_id" db:"root_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	SourceID       *string         `json:"source_id,omitempty" db:"source_id"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	ChangesApplied json.RawMessage `json:"changes_applied,omitempty" db:"changes_applied"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Title is a named badge from the reference catalog.
type Title struct {
	TitleID     string `json:"title_id" db:"title_id"`
	DisplayName string `json:"display_name" db:"display_name"`
	Description string `json:"description,omitempty" db:"description"`
}

// UserTitle is the (root_id, title_id) join assigning a Title to an identity.
type UserTitle struct {
	RootID    string    `json:"root_id" db:"root_id"`
	TitleID   string    `json:"title_id" db:"title_id"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
}

// FateMarker is a freeform narrative breadcrumb keyed to a root.
type FateMarker struct {
	MarkerID  string    `json:"marker_id" db:"marker_id"`
	RootID    string    `json:"root_id" db:"root_id"`
	SourceID  *string   `json:"source_id,omitempty" db:"source_id"`
	Marker    string    `json:"marker" db:"marker"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ConfigEntry is one (key, string value) tunable.
type ConfigEntry struct {
	Key       string    `json:"key" db:"config_key"`
	Value     string    `json:"value" db:"config_value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FateCache is a sealed reward container granted by ingest milestones.
type FateCache struct {
	CacheID     string     `json:"cache_id" db:"cache_id"`
	RootID      string     `json:"root_id" db:"root_id"`
	CacheType   string     `json:"cache_type" db:"cache_type"`
	Rarity      string     `json:"rarity" db:"rarity"`
	Status      string     `json:"status" db:"status"`
	Trigger     string     `json:"trigger" db:"trigger"`
	RewardType  *string    `json:"reward_type,omitempty" db:"reward_type"`
	RewardValue *string    `json:"reward_value,omitempty" db:"reward_value"`
	RewardName  *string    `json:"reward_name,omitempty" db:"reward_name"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	OpenedAt    *time.Time `json:"opened_at,omitempty" db:"opened_at"`
}

// LootTableEntry is one weighted reward pool row.
type LootTableEntry struct {
	EntryID     string `json:"entry_id" db:"entry_id"`
	CacheType   string `json:"cache_type" db:"cache_type"`
	RewardType  string `json:"reward_type" db:"reward_type"`
	RewardValue string `json:"reward_value" db:"reward_value"`
	DisplayName string `json:"display_name" db:"display_name"`
	Weight      int    `json:"weight" db:"weight"`
	Rarity      string `json:"rarity" db:"rarity"`
	MinLevel    int    `json:"min_level" db:"min_level"`
}

// GearItem is a reference catalog row describing equippable gear.
type GearItem struct {
	GearID    string          `json:"gear_id" db:"gear_id"`
	Name      string          `json:"name" db:"name"`
	Slot      string          `json:"slot" db:"slot"`
	Modifiers json.RawMessage `json:"modifiers,omitempty" db:"modifiers"`
}

// PlayerInventoryItem is a soulbound inventory row bound to a root.
type PlayerInventoryItem struct {
	InventoryID string    `json:"inventory_id" db:"inventory_id"`
	RootID      string    `json:"root_id" db:"root_id"`
	GearID      string    `json:"gear_id" db:"gear_id"`
	AcquiredAt  time.Time `json:"acquired_at" db:"acquired_at"`
}

// PlayerEquipment is the equipped-slot join; at most one row per (root, slot).
type PlayerEquipment struct {
	RootID      string    `json:"root_id" db:"root_id"`
	Slot        string    `json:"slot" db:"slot"`
	InventoryID string    `json:"inventory_id" db:"inventory_id"`
	EquippedAt  time.Time `json:"equipped_at" db:"equipped_at"`
}
