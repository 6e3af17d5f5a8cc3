package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pik-systems/identity-kernel/internal/model"
)

const fateCacheColumns = `cache_id, root_id, cache_type, rarity, status, trigger, reward_type, reward_value, reward_name, created_at, opened_at`

func scanFateCache(row interface{ Scan(...any) error }) (*model.FateCache, error) {
	var c model.FateCache
	var rewardType, rewardValue, rewardName sql.NullString
	var openedAt sql.NullTime
	if err := row.Scan(&c.CacheID, &c.RootID, &c.CacheType, &c.Rarity, &c.Status, &c.Trigger,
		&rewardType, &rewardValue, &rewardName, &c.CreatedAt, &openedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.RewardType = stringPtr(rewardType)
	c.RewardValue = stringPtr(rewardValue)
	c.RewardName = stringPtr(rewardName)
	c.OpenedAt = timePtr(openedAt)
	return &c, nil
}

// CreateFateCache inserts a sealed reward container.
func (q *Queries) CreateFateCache(ctx context.Context, c *model.FateCache) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO fate_caches (cache_id, root_id, cache_type, rarity, status, trigger, reward_type, reward_value, reward_name, created_at, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.CacheID, c.RootID, c.CacheType, c.Rarity, c.Status, c.Trigger,
		nullString(c.RewardType), nullString(c.RewardValue), nullString(c.RewardName), c.CreatedAt, nullTime(c.OpenedAt))
	return err
}

// GetFateCache loads a cache by id.
func (q *Queries) GetFateCache(ctx context.Context, cacheID string) (*model.FateCache, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+fateCacheColumns+` FROM fate_caches WHERE cache_id = $1`, cacheID)
	return scanFateCache(row)
}

// ListFateCachesByRoot returns every cache ever granted to a root, newest-first.
func (q *Queries) ListFateCachesByRoot(ctx context.Context, rootID string) ([]model.FateCache, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+fateCacheColumns+` FROM fate_caches WHERE root_id = $1 ORDER BY created_at DESC`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FateCache
	for rows.Next() {
		c, err := scanFateCache(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// OpenFateCache fills in the rolled reward and marks a sealed cache opened.
// Only transitions rows still sealed — callers check RowsAffected to detect
// a double-open race.
func (q *Queries) OpenFateCache(ctx context.Context, cacheID string, rewardType, rewardValue, rewardName string, openedAt time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE fate_caches
		SET status = $1, reward_type = $2, reward_value = $3, reward_name = $4, opened_at = $5
		WHERE cache_id = $6 AND status = $7
	`, model.CacheStatusOpened, rewardType, rewardValue, rewardName, openedAt, cacheID, model.CacheStatusSealed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListLootEntries returns every weighted reward-pool row eligible for a
// given cache type and level, used by the loot engine's weighted draw.
func (q *Queries) ListLootEntries(ctx context.Context, cacheType string, level int) ([]model.LootTableEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT entry_id, cache_type, reward_type, reward_value, display_name, weight, rarity, min_level
		FROM loot_table
		WHERE cache_type = $1 AND min_level <= $2
	`, cacheType, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LootTableEntry
	for rows.Next() {
		var e model.LootTableEntry
		if err := rows.Scan(&e.EntryID, &e.CacheType, &e.RewardType, &e.RewardValue, &e.DisplayName, &e.Weight, &e.Rarity, &e.MinLevel); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetGearItem loads a gear catalog row by id.
func (q *Queries) GetGearItem(ctx context.Context, gearID string) (*model.GearItem, error) {
	row := q.q.QueryRowContext(ctx, `SELECT gear_id, name, slot, modifiers FROM gear_items WHERE gear_id = $1`, gearID)
	var g model.GearItem
	if err := row.Scan(&g.GearID, &g.Name, &g.Slot, &g.Modifiers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// AddInventoryItem binds a gear item to a root's soulbound inventory.
func (q *Queries) AddInventoryItem(ctx context.Context, item *model.PlayerInventoryItem) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO player_inventory (inventory_id, root_id, gear_id, acquired_at)
		VALUES ($1,$2,$3,$4)
	`, item.InventoryID, item.RootID, item.GearID, item.AcquiredAt)
	return err
}

// ListInventory returns every inventory item a root owns.
func (q *Queries) ListInventory(ctx context.Context, rootID string) ([]model.PlayerInventoryItem, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT inventory_id, root_id, gear_id, acquired_at FROM player_inventory WHERE root_id = $1 ORDER BY acquired_at DESC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlayerInventoryItem
	for rows.Next() {
		var item model.PlayerInventoryItem
		if err := rows.Scan(&item.InventoryID, &item.RootID, &item.GearID, &item.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetInventoryItem loads one inventory row, confirming it belongs to rootID.
func (q *Queries) GetInventoryItem(ctx context.Context, rootID, inventoryID string) (*model.PlayerInventoryItem, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT inventory_id, root_id, gear_id, acquired_at FROM player_inventory WHERE inventory_id = $1 AND root_id = $2
	`, inventoryID, rootID)
	var item model.PlayerInventoryItem
	if err := row.Scan(&item.InventoryID, &item.RootID, &item.GearID, &item.AcquiredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// EquipItem sets the equipped item for one slot, replacing whatever was
// equipped there before (at most one row per (root, slot)).
func (q *Queries) EquipItem(ctx context.Context, eq *model.PlayerEquipment) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO player_equipment (root_id, slot, inventory_id, equipped_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (root_id, slot) DO UPDATE SET inventory_id = EXCLUDED.inventory_id, equipped_at = EXCLUDED.equipped_at
	`, eq.RootID, eq.Slot, eq.InventoryID, eq.EquippedAt)
	return err
}

// ListEquipment returns every slot a root currently has equipped.
func (q *Queries) ListEquipment(ctx context.Context, rootID string) ([]model.PlayerEquipment, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT root_id, slot, inventory_id, equipped_at FROM player_equipment WHERE root_id = $1 ORDER BY slot
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlayerEquipment
	for rows.Next() {
		var eq model.PlayerEquipment
		if err := rows.Scan(&eq.RootID, &eq.Slot, &eq.InventoryID, &eq.EquippedAt); err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}
