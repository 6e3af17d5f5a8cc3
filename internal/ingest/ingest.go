// Package ingest implements IngestEngine: the single entry point for
// source-attributed progression events, the XP/level cascade, and the
// title/cache side-grants that follow. It composes internal/consent for the
// access check, internal/configstore for the tunable formulas, and
// internal/ledger for the one-event-per-request append — the same
// validate-then-single-transaction shape used for every state-changing
// endpoint in this codebase.
package ingest

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/logging"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/consent"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/loot"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// levelTitles maps a level reached by the XP cascade to the title it grants.
var levelTitles = map[int]string{
	2:  "title_fate_awakened",
	5:  "title_fate_burning",
	10: "title_fate_ascendant",
}

// bossTiers is evaluated highest-first; the first threshold the damage
// percentage clears wins.
var bossTiers = []struct {
	threshold float64
	titleID   string
}{
	{100, "title_bossslayer_flawless"},
	{75, "title_bossslayer_veteran"},
	{50, "title_bossslayer_novice"},
}

// Engine dispatches ingest events and applies their formulas.
type Engine struct {
	db      *store.Store
	config  *configstore.Store
	consent *consent.Manager
	ledger  *ledger.Ledger
	log     *logging.Logger
}

// New wraps the collaborators IngestEngine needs.
func New(db *store.Store, config *configstore.Store, consentMgr *consent.Manager, led *ledger.Ledger, log *logging.Logger) *Engine {
	return &Engine{db: db, config: config, consent: consentMgr, ledger: led, log: log}
}

// Input is one ingest request body.
type Input struct {
	RootID    string
	EventType string
	Payload   map[string]any
}

// Result is what the ingest endpoint returns on success.
type Result struct {
	EventID        string
	EventType      string
	ChangesApplied map[string]any
}

// Ingest runs the full dispatch: load, validate consent, dispatch on
// event_type, apply the formula inside one transaction, then best-effort
// side-grants outside it.
func (e *Engine) Ingest(ctx context.Context, sourceID string, in Input) (*Result, error) {
	root, err := e.db.GetRootIdentity(ctx, in.RootID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("root identity", in.RootID)
	}
	if err != nil {
		return nil, err
	}

	link, err := e.consent.ValidateActiveLink(ctx, in.RootID, sourceID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, errors.Forbidden("no active consent link for this source")
	}

	switch in.EventType {
	case "progression.session_completed":
		return e.sessionCompleted(ctx, sourceID, root, in.Payload)
	case "progression.xp_granted":
		return e.xpGranted(ctx, sourceID, root, in.Payload)
	case "progression.node_completed":
		return e.nodeCompleted(ctx, sourceID, root, in.Payload)
	case "progression.title_granted":
		return e.titleGranted(ctx, sourceID, root, in.Payload)
	case "progression.fate_marker":
		return e.fateMarker(ctx, sourceID, root, in.Payload)
	default:
		return nil, errors.BadRequest("unknown event type: " + in.EventType)
	}
}

func payloadFloat(p map[string]any, key string, fallback float64) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return fallback, true
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func payloadString(p map[string]any, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// thresholdFor computes T(n) = floor(xp_base_threshold * xp_level_multiplier^(n-1)),
// the XP required to climb from level n to n+1.
func thresholdFor(base float64, multiplier float64, level int) int64 {
	return int64(math.Floor(base * math.Pow(multiplier, float64(level-1))))
}

// cascadeResult captures the effect of one XP application, including every
// level crossed, for the event's `changes` projection and title side-grants.
type cascadeResult struct {
	fromXP, toXP       int64
	fromLevel, toLevel int
	titlesToGrant      []string
}

// cascadeLevel walks the level cascade forward from fromLevel by spending
// delta against each level's increment in turn, tracking what's left in a
// running remainder rather than comparing the fixed total against a single,
// repeatedly-advancing threshold — the latter over-cascades (and, at
// xp_level_multiplier=1.0, never terminates) because the same constant gets
// compared against the whole accumulated total on every iteration instead of
// being subtracted from it.
func cascadeLevel(base, multiplier float64, fromLevel int, delta int64) (level int, titlesGranted []string) {
	level = fromLevel
	remaining := delta
	for remaining >= thresholdFor(base, multiplier, level) {
		remaining -= thresholdFor(base, multiplier, level)
		level++
		if title, ok := levelTitles[level]; ok {
			titlesGranted = append(titlesGranted, title)
		}
	}
	return level, titlesGranted
}

func (e *Engine) applyXP(ctx context.Context, root *model.RootIdentity, delta int64) (*cascadeResult, error) {
	base, err := e.config.GetFloat(ctx, "xp_base_threshold")
	if err != nil {
		return nil, err
	}
	multiplier, err := e.config.GetFloat(ctx, "xp_level_multiplier")
	if err != nil {
		return nil, err
	}

	res := &cascadeResult{fromXP: root.FateXP, fromLevel: root.FateLevel}
	res.toLevel, res.titlesToGrant = cascadeLevel(base, multiplier, root.FateLevel, delta)
	res.toXP = root.FateXP + delta
	return res, nil
}

func changesFromCascade(c *cascadeResult) map[string]any {
	changes := map[string]any{
		"xp_delta":  c.toXP - c.fromXP,
		"new_xp":    c.toXP,
		"new_level": c.toLevel,
	}
	if c.toLevel != c.fromLevel {
		changes["level_up"] = map[string]any{"from": c.fromLevel, "to": c.toLevel}
	}
	return changes
}

// grantTitlesBestEffort appends one title.granted event per title outside
// the primary transaction, as a best-effort side-grant. Failures are logged,
// not propagated — the primary mutation already committed.
func (e *Engine) grantTitlesBestEffort(ctx context.Context, rootID, sourceID string, titleIDs []string) {
	for _, titleID := range titleIDs {
		e.grantTitleBestEffort(ctx, rootID, sourceID, titleID)
	}
}

func (e *Engine) grantTitleBestEffort(ctx context.Context, rootID, sourceID, titleID string) {
	_, err := e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		already := false
		if err := q.GrantTitle(ctx, &model.UserTitle{RootID: rootID, TitleID: titleID, GrantedAt: time.Now().UTC()}); err != nil {
			if err != store.ErrAlreadyExists {
				return err
			}
			already = true
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "title.granted",
			SourceID:  &sourceID,
			Payload: map[string]any{
				"title_id":     titleID,
				"already_held": already,
			},
		})
		return err
	})
	if err != nil {
		e.log.Error(ctx, "best-effort title grant failed", err, map[string]interface{}{"root_id": rootID, "title_id": titleID})
	}
}

func (e *Engine) grantCacheBestEffort(ctx context.Context, rootID, cacheType, trigger string, level int, bossDamagePct float64) {
	rarity := loot.RollRarity(level, trigger, bossDamagePct, nil)
	cache := &model.FateCache{
		CacheID:   uuid.NewString(),
		RootID:    rootID,
		CacheType: cacheType,
		Rarity:    rarity,
		Status:    model.CacheStatusSealed,
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
	}
	_, err := e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.CreateFateCache(ctx, cache); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "cache.granted",
			Payload: map[string]any{
				"cache_id":   cache.CacheID,
				"cache_type": cacheType,
				"trigger":    trigger,
			},
		})
		return err
	})
	if err != nil {
		e.log.Error(ctx, "best-effort cache grant failed", err, map[string]interface{}{"root_id": rootID, "cache_type": cacheType})
	}
}

func (e *Engine) sessionCompleted(ctx context.Context, sourceID string, root *model.RootIdentity, payload map[string]any) (*Result, error) {
	difficulty, _ := payloadString(payload, "difficulty")
	if difficulty != "normal" && difficulty != "hard" {
		return nil, errors.BadRequest("difficulty must be \"normal\" or \"hard\"")
	}
	nodesCompleted, ok := payloadFloat(payload, "nodes_completed", 0)
	if !ok || nodesCompleted < 0 {
		return nil, errors.BadRequest("nodes_completed must be a non-negative number")
	}
	bossDamagePct, ok := payloadFloat(payload, "boss_damage_pct", 0)
	if !ok || bossDamagePct < 0 || bossDamagePct > 100 {
		return nil, errors.BadRequest("boss_damage_pct must be in [0,100]")
	}

	var sessionXPKey string
	if difficulty == "hard" {
		sessionXPKey = "xp_per_session_hard"
	} else {
		sessionXPKey = "xp_per_session_normal"
	}
	sessionXP, err := e.config.GetFloat(ctx, sessionXPKey)
	if err != nil {
		return nil, err
	}
	bossTierPct, err := e.config.GetFloat(ctx, "xp_boss_tier_pct")
	if err != nil {
		return nil, err
	}
	nodeCompletionXP, err := e.config.GetFloat(ctx, "xp_node_completion")
	if err != nil {
		return nil, err
	}
	eventMultiplier, err := e.config.GetFloat(ctx, "event_xp_multiplier")
	if err != nil {
		return nil, err
	}

	bossBonus := math.Floor((bossDamagePct / 100) * bossTierPct * sessionXP)
	nodeXP := math.Floor(nodesCompleted * nodeCompletionXP)
	totalXP := int64(math.Floor((sessionXP + bossBonus + nodeXP) * eventMultiplier))

	cascade, err := e.applyXP(ctx, root, totalXP)
	if err != nil {
		return nil, err
	}

	var bossTitle string
	for _, tier := range bossTiers {
		if bossDamagePct >= tier.threshold {
			bossTitle = tier.titleID
			break
		}
	}

	changes := changesFromCascade(cascade)
	changes["session_xp"] = int64(sessionXP)
	changes["boss_bonus"] = int64(bossBonus)
	changes["node_xp"] = int64(nodeXP)
	changes["total_xp"] = totalXP
	if bossTitle != "" {
		changes["boss_title"] = bossTitle
	}

	var eventID string
	_, err = e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.UpdateRootProgression(ctx, root.RootID, cascade.toXP, cascade.toLevel); err != nil {
			return err
		}
		event, err := appendEvent(ledger.AppendInput{
			RootID:    root.RootID,
			EventType: "progression.session_completed",
			SourceID:  &sourceID,
			Payload:   payload,
			Changes:   changes,
		})
		if err != nil {
			return err
		}
		eventID = event.EventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.grantTitlesBestEffort(ctx, root.RootID, sourceID, cascade.titlesToGrant)
	if bossTitle != "" {
		e.grantTitleBestEffort(ctx, root.RootID, sourceID, bossTitle)
	}
	if cascade.toLevel != cascade.fromLevel {
		e.grantCacheBestEffort(ctx, root.RootID, model.CacheTypeLevelUp, "level_up", cascade.toLevel, 0)
	}
	if bossDamagePct >= 50 {
		e.grantCacheBestEffort(ctx, root.RootID, model.CacheTypeBossKill, "boss_kill", cascade.toLevel, bossDamagePct)
	}

	return &Result{EventID: eventID, EventType: "progression.session_completed", ChangesApplied: changes}, nil
}

func (e *Engine) xpGranted(ctx context.Context, sourceID string, root *model.RootIdentity, payload map[string]any) (*Result, error) {
	xp, ok := payloadFloat(payload, "xp", 0)
	if !ok {
		return nil, errors.BadRequest("xp must be a number")
	}
	eventMultiplier, err := e.config.GetFloat(ctx, "event_xp_multiplier")
	if err != nil {
		return nil, err
	}
	totalXP := int64(math.Floor(xp * eventMultiplier))

	return e.applyXPAndCommit(ctx, sourceID, root, totalXP, "progression.xp_granted", payload)
}

func (e *Engine) nodeCompleted(ctx context.Context, sourceID string, root *model.RootIdentity, payload map[string]any) (*Result, error) {
	if _, ok := payloadString(payload, "node_id"); !ok {
		return nil, errors.BadRequest("node_id is required")
	}
	nodeCompletionXP, err := e.config.GetFloat(ctx, "xp_node_completion")
	if err != nil {
		return nil, err
	}
	eventMultiplier, err := e.config.GetFloat(ctx, "event_xp_multiplier")
	if err != nil {
		return nil, err
	}
	totalXP := int64(math.Floor(nodeCompletionXP * eventMultiplier))

	return e.applyXPAndCommit(ctx, sourceID, root, totalXP, "progression.node_completed", payload)
}

// applyXPAndCommit is the shared single-event, single-delta transaction body
// used by xp_granted and node_completed (session_completed has its own
// richer changes payload and is written out separately above).
func (e *Engine) applyXPAndCommit(ctx context.Context, sourceID string, root *model.RootIdentity, totalXP int64, eventType string, payload map[string]any) (*Result, error) {
	cascade, err := e.applyXP(ctx, root, totalXP)
	if err != nil {
		return nil, err
	}
	changes := changesFromCascade(cascade)

	var eventID string
	_, err = e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.UpdateRootProgression(ctx, root.RootID, cascade.toXP, cascade.toLevel); err != nil {
			return err
		}
		event, err := appendEvent(ledger.AppendInput{
			RootID:    root.RootID,
			EventType: eventType,
			SourceID:  &sourceID,
			Payload:   payload,
			Changes:   changes,
		})
		if err != nil {
			return err
		}
		eventID = event.EventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.grantTitlesBestEffort(ctx, root.RootID, sourceID, cascade.titlesToGrant)
	if cascade.toLevel != cascade.fromLevel {
		e.grantCacheBestEffort(ctx, root.RootID, model.CacheTypeLevelUp, "level_up", cascade.toLevel, 0)
	}

	return &Result{EventID: eventID, EventType: eventType, ChangesApplied: changes}, nil
}

func (e *Engine) titleGranted(ctx context.Context, sourceID string, root *model.RootIdentity, payload map[string]any) (*Result, error) {
	titleID, ok := payloadString(payload, "title_id")
	if !ok || titleID == "" {
		return nil, errors.BadRequest("title_id is required")
	}
	if _, err := e.db.GetTitle(ctx, titleID); err == store.ErrNotFound {
		return nil, errors.BadRequest("unknown title_id: " + titleID)
	} else if err != nil {
		return nil, err
	}

	alreadyHeld := false
	var eventID string
	changes := map[string]any{}

	_, err := e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.GrantTitle(ctx, &model.UserTitle{RootID: root.RootID, TitleID: titleID, GrantedAt: time.Now().UTC()}); err != nil {
			if err != store.ErrAlreadyExists {
				return err
			}
			alreadyHeld = true
		}
		changes["title_id"] = titleID
		changes["already_held"] = alreadyHeld
		event, err := appendEvent(ledger.AppendInput{
			RootID:    root.RootID,
			EventType: "progression.title_granted",
			SourceID:  &sourceID,
			Payload:   payload,
			Changes:   changes,
		})
		if err != nil {
			return err
		}
		eventID = event.EventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{EventID: eventID, EventType: "progression.title_granted", ChangesApplied: changes}, nil
}

func (e *Engine) fateMarker(ctx context.Context, sourceID string, root *model.RootIdentity, payload map[string]any) (*Result, error) {
	marker, ok := payloadString(payload, "marker")
	if !ok || marker == "" {
		return nil, errors.BadRequest("marker is required")
	}

	var eventID string
	changes := map[string]any{"marker": marker}

	_, err := e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.InsertMarker(ctx, &model.FateMarker{
			MarkerID:  uuid.NewString(),
			RootID:    root.RootID,
			SourceID:  &sourceID,
			Marker:    marker,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		event, err := appendEvent(ledger.AppendInput{
			RootID:    root.RootID,
			EventType: "progression.fate_marker",
			SourceID:  &sourceID,
			Payload:   payload,
			Changes:   changes,
		})
		if err != nil {
			return err
		}
		eventID = event.EventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{EventID: eventID, EventType: "progression.fate_marker", ChangesApplied: changes}, nil
}
