// Package loot implements LootEngine: rarity rolls on cache grant and the
// weighted reward draw on cache open, built on the same Store-transaction
// idiom and ledger-append-after-mutation shape as internal/ingest and
// internal/consent.
package loot

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// RollRarity applies the exact, first-match-wins rarity condition table.
// forced lets operators override the roll for demo/manual grants.
func RollRarity(level int, trigger string, bossDamagePct float64, forced *string) string {
	if forced != nil && *forced != "" {
		return *forced
	}
	r := rand.Float64() * 100

	switch {
	case level >= 10 && trigger == model.CacheTypeBossKill && bossDamagePct >= 100 && r < 5:
		return model.RarityLegendary
	case level >= 7 && bossDamagePct >= 75 && r < 12:
		return model.RarityEpic
	case level >= 4 && r < 20:
		return model.RarityRare
	case level >= 2 && r < 45:
		return model.RarityUncommon
	default:
		return model.RarityCommon
	}
}

// Engine opens caches and applies their rolled rewards.
type Engine struct {
	db     *store.Store
	ledger *ledger.Ledger
}

// New wraps the collaborators LootEngine needs.
func New(db *store.Store, led *ledger.Ledger) *Engine {
	return &Engine{db: db, ledger: led}
}

// OpenResult is what the open-cache endpoint returns on success.
type OpenResult struct {
	CacheID     string
	RewardType  string
	RewardValue string
	RewardName  string
}

// drawEntry performs the weighted walk: draw r in [0, W), accumulate weights
// across entries in order until the running sum crosses r.
func drawEntry(entries []model.LootTableEntry) (*model.LootTableEntry, bool) {
	var total int
	for _, e := range entries {
		total += e.Weight
	}
	if total <= 0 {
		return nil, false
	}
	r := rand.Intn(total)
	running := 0
	for i := range entries {
		running += entries[i].Weight
		if r < running {
			return &entries[i], true
		}
	}
	return &entries[len(entries)-1], true
}

// OpenCache loads a sealed cache owned by rootID, draws its reward from the
// matching loot table, applies it by reward type, and marks the cache
// opened — all inside one transaction, with the loot.cache_opened event
// appended in the same commit.
func (e *Engine) OpenCache(ctx context.Context, rootID, cacheID string) (*OpenResult, error) {
	cache, err := e.db.GetFateCache(ctx, cacheID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("fate cache", cacheID)
	}
	if err != nil {
		return nil, err
	}
	if cache.RootID != rootID {
		return nil, errors.NotFound("fate cache", cacheID)
	}
	if cache.Status != model.CacheStatusSealed {
		return nil, errors.Conflict("cache has already been opened")
	}

	root, err := e.db.GetRootIdentity(ctx, rootID)
	if err != nil {
		return nil, err
	}

	entries, err := e.db.ListLootEntries(ctx, cache.CacheType, root.FateLevel)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Internal("no loot table entries configured for this cache type and level", nil)
	}

	entry, ok := drawEntry(entries)
	if !ok {
		return nil, errors.Internal("loot table has zero total weight", nil)
	}

	result := &OpenResult{CacheID: cacheID, RewardType: entry.RewardType, RewardValue: entry.RewardValue, RewardName: entry.DisplayName}
	now := time.Now().UTC()

	_, err = e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		rewardType := entry.RewardType
		rewardValue := entry.RewardValue
		rewardName := entry.DisplayName

		switch entry.RewardType {
		case model.RewardXPBoost:
			amount, convErr := strconv.ParseInt(entry.RewardValue, 10, 64)
			if convErr != nil {
				return errors.Internal("loot table xp_boost entry has a non-integer reward_value", convErr)
			}
			if err := q.UpdateRootProgression(ctx, rootID, root.FateXP+amount, root.FateLevel); err != nil {
				return err
			}
		case model.RewardTitle:
			if grantErr := q.GrantTitle(ctx, &model.UserTitle{RootID: rootID, TitleID: entry.RewardValue, GrantedAt: now}); grantErr != nil {
				if grantErr != store.ErrAlreadyExists {
					return grantErr
				}
				// Title already held: fall back to +100 xp_boost.
				if err := q.UpdateRootProgression(ctx, rootID, root.FateXP+100, root.FateLevel); err != nil {
					return err
				}
				rewardType = model.RewardXPBoost
				rewardValue = "100"
				rewardName = "Fallback XP boost (title already held)"
			}
		case model.RewardMarker:
			if err := q.InsertMarker(ctx, &model.FateMarker{
				MarkerID:  uuid.NewString(),
				RootID:    rootID,
				Marker:    entry.RewardValue,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		case model.RewardGear:
			if _, err := q.GetGearItem(ctx, entry.RewardValue); err != nil {
				if err == store.ErrNotFound {
					return errors.Internal("loot table references an unknown gear item", nil)
				}
				return err
			}
			if err := q.AddInventoryItem(ctx, &model.PlayerInventoryItem{
				InventoryID: uuid.NewString(),
				RootID:      rootID,
				GearID:      entry.RewardValue,
				AcquiredAt:  now,
			}); err != nil {
				return err
			}
		default:
			return errors.Internal("loot table entry has an unknown reward type: "+entry.RewardType, nil)
		}

		rows, err := q.OpenFateCache(ctx, cacheID, rewardType, rewardValue, rewardName, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.Conflict("cache has already been opened")
		}

		result.RewardType = rewardType
		result.RewardValue = rewardValue
		result.RewardName = rewardName

		_, err = appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "loot.cache_opened",
			Payload: map[string]any{
				"cache_id":     cacheID,
				"cache_type":   cache.CacheType,
				"rarity":       cache.Rarity,
				"reward_type":  rewardType,
				"reward_value": rewardValue,
				"reward_name":  rewardName,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
