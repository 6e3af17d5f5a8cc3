// Package identity implements the RootIdentity-facing operations exposed
// directly (as opposed to the passkey ceremony, which internal/webauthnengine
// owns): operator enrollment, profile/equipped-title mutation, and the
// read-side projections the dashboard and timeline endpoints serve. Built on
// internal/consent's validate-then-ledger-append shape, the same pattern
// every other mutator in this module uses.
package identity

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// Manager owns RootIdentity CRUD that falls outside the passkey ceremony.
type Manager struct {
	db     *store.Store
	config *configstore.Store
	ledger *ledger.Ledger
}

// New wraps the collaborators Manager needs.
func New(db *store.Store, config *configstore.Store, led *ledger.Ledger) *Manager {
	return &Manager{db: db, config: config, ledger: led}
}

// EnrollInput carries the `POST /api/users/enroll` body — direct,
// operator-driven enrollment without a passkey ceremony.
type EnrollInput struct {
	HeroName      string
	FateAlignment string
	Origin        *string
	EnrolledBy    string
	SourceID      *string
}

// EnrollResult is what the enroll endpoint returns on success.
type EnrollResult struct {
	RootID        string
	PersonaID     string
	HeroName      string
	FateAlignment string
	LinkID        *string
	EnrolledAt    time.Time
}

// Enroll creates a RootIdentity and its primary Persona directly — an
// operator enrollment path alongside passkey registration — optionally
// granting a SourceLink in the same transaction.
func (m *Manager) Enroll(ctx context.Context, in EnrollInput) (*EnrollResult, error) {
	rootID := uuid.NewString()
	personaID := uuid.NewString()
	now := time.Now().UTC()

	root := &model.RootIdentity{
		RootID:        rootID,
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		Origin:        in.Origin,
		FateXP:        0,
		FateLevel:     1,
		Status:        model.IdentityStatusActive,
		EnrolledBy:    in.EnrolledBy,
		EnrolledAt:    now,
	}
	persona := &model.Persona{
		PersonaID: personaID,
		RootID:    rootID,
		Name:      in.HeroName,
		IsPrimary: true,
		CreatedAt: now,
	}

	var linkID *string

	_, err := m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.CreateRootIdentity(ctx, root); err != nil {
			return err
		}
		if err := q.CreatePersona(ctx, persona); err != nil {
			return err
		}
		if _, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "identity.enrolled",
			Payload: map[string]any{
				"hero_name":      in.HeroName,
				"fate_alignment": in.FateAlignment,
				"enrolled_by":    in.EnrolledBy,
			},
		}); err != nil {
			return err
		}

		if in.SourceID != nil && *in.SourceID != "" {
			source, err := q.GetSource(ctx, *in.SourceID)
			if err != nil {
				if err == store.ErrNotFound {
					return errors.BadRequest("unknown source_id: " + *in.SourceID)
				}
				return err
			}
			if source.Status != model.SourceStatusActive {
				return errors.BadRequest("source is not active")
			}
			link := &model.SourceLink{
				LinkID:    uuid.NewString(),
				RootID:    rootID,
				SourceID:  *in.SourceID,
				Scope:     "progression",
				Status:    model.LinkStatusActive,
				GrantedBy: in.EnrolledBy,
				GrantedAt: now,
			}
			if err := q.CreateSourceLink(ctx, link); err != nil {
				return err
			}
			linkID = &link.LinkID
			if _, err := appendEvent(ledger.AppendInput{
				RootID:    rootID,
				EventType: "source.link_granted",
				SourceID:  in.SourceID,
				Payload: map[string]any{
					"link_id":   link.LinkID,
					"source_id": *in.SourceID,
				},
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &EnrollResult{
		RootID:        rootID,
		PersonaID:     personaID,
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		LinkID:        linkID,
		EnrolledAt:    now,
	}, nil
}

// Summary is one row of `GET /api/users`.
type Summary struct {
	RootID        string `json:"root_id"`
	HeroName      string `json:"hero_name"`
	FateAlignment string `json:"fate_alignment"`
	FateXP        int64  `json:"fate_xp"`
	FateLevel     int    `json:"fate_level"`
	ActiveSources int    `json:"active_sources"`
}

// List returns every enrolled root, oldest-first, with its active-source count.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	roots, err := m.db.ListRootIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(roots))
	for _, r := range roots {
		links, err := m.db.ListSourceLinksByRoot(ctx, r.RootID)
		if err != nil {
			return nil, err
		}
		active := 0
		for _, l := range links {
			if l.Status == model.LinkStatusActive {
				active++
			}
		}
		out = append(out, Summary{
			RootID:        r.RootID,
			HeroName:      r.HeroName,
			FateAlignment: r.FateAlignment,
			FateXP:        r.FateXP,
			FateLevel:     r.FateLevel,
			ActiveSources: active,
		})
	}
	return out, nil
}

// Progression is the nested progression block in `GET /api/users/:root_id`.
type Progression struct {
	FateXP           int64              `json:"fate_xp"`
	FateLevel        int                `json:"fate_level"`
	XPInCurrentLevel int64              `json:"xp_in_current_level"`
	XPNeededForNext  int64              `json:"xp_needed_for_next"`
	TotalSessions    int64              `json:"total_sessions"`
	Titles           []string           `json:"titles"`
	TitlesDetail     []model.Title      `json:"titles_detail"`
	FateMarkers      []model.FateMarker `json:"fate_markers"`
}

// Detail is the full nested response `GET /api/users/:root_id` returns.
type Detail struct {
	Identity     *model.RootIdentity    `json:"identity"`
	Persona      *model.Persona         `json:"persona,omitempty"`
	Progression  Progression            `json:"progression"`
	SourceLinks  []model.SourceLink     `json:"source_links"`
	RecentEvents []model.IdentityEvent  `json:"recent_events"`
	FateCaches   []model.FateCache      `json:"fate_caches"`
}

const recentEventsLimit = 20

// Get assembles the full detail projection for one root.
func (m *Manager) Get(ctx context.Context, rootID string) (*Detail, error) {
	root, err := m.db.GetRootIdentity(ctx, rootID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("root identity", rootID)
	}
	if err != nil {
		return nil, err
	}

	persona, err := m.db.GetPrimaryPersona(ctx, rootID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	base, err := m.config.GetFloat(ctx, "xp_base_threshold")
	if err != nil {
		return nil, err
	}
	multiplier, err := m.config.GetFloat(ctx, "xp_level_multiplier")
	if err != nil {
		return nil, err
	}
	var prevThreshold int64
	if root.FateLevel > 1 {
		prevThreshold = thresholdFor(base, multiplier, root.FateLevel-1)
	}
	nextThreshold := thresholdFor(base, multiplier, root.FateLevel)

	totalSessions, err := m.ledger.CountByType(ctx, rootID, "progression.session_completed")
	if err != nil {
		return nil, err
	}

	userTitles, err := m.db.ListTitlesByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	titleIDs := make([]string, 0, len(userTitles))
	titlesDetail := make([]model.Title, 0, len(userTitles))
	for _, ut := range userTitles {
		titleIDs = append(titleIDs, ut.TitleID)
		title, err := m.db.GetTitle(ctx, ut.TitleID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		titlesDetail = append(titlesDetail, *title)
	}

	markers, err := m.db.ListMarkersByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	links, err := m.db.ListSourceLinksByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	events, err := m.ledger.Timeline(ctx, rootID, recentEventsLimit)
	if err != nil {
		return nil, err
	}

	caches, err := m.db.ListFateCachesByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	return &Detail{
		Identity: root,
		Persona:  persona,
		Progression: Progression{
			FateXP:           root.FateXP,
			FateLevel:        root.FateLevel,
			XPInCurrentLevel: root.FateXP - prevThreshold,
			XPNeededForNext:  nextThreshold - root.FateXP,
			TotalSessions:    totalSessions,
			Titles:           titleIDs,
			TitlesDetail:     titlesDetail,
			FateMarkers:      markers,
		},
		SourceLinks:  links,
		RecentEvents: events,
		FateCaches:   caches,
	}, nil
}

func thresholdFor(base, multiplier float64, level int) int64 {
	return int64(math.Floor(base * math.Pow(multiplier, float64(level-1))))
}

// Timeline returns a root's ledger events newest-first.
func (m *Manager) Timeline(ctx context.Context, rootID string, limit int) ([]model.IdentityEvent, error) {
	if _, err := m.db.GetRootIdentity(ctx, rootID); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("root identity", rootID)
		}
		return nil, err
	}
	return m.ledger.Timeline(ctx, rootID, limit)
}

// ProfileInput carries the editable subset of `PUT /api/users/:root_id/profile`.
type ProfileInput struct {
	HeroName      *string
	FateAlignment *string
	Origin        *string
}

// UpdateProfile patches the supplied fields and appends identity.profile_updated.
func (m *Manager) UpdateProfile(ctx context.Context, rootID string, in ProfileInput) (*model.RootIdentity, error) {
	if _, err := m.db.GetRootIdentity(ctx, rootID); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("root identity", rootID)
		}
		return nil, err
	}

	changes := map[string]any{}
	if in.HeroName != nil {
		changes["hero_name"] = *in.HeroName
	}
	if in.FateAlignment != nil {
		changes["fate_alignment"] = *in.FateAlignment
	}
	if in.Origin != nil {
		changes["origin"] = *in.Origin
	}

	_, err := m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.UpdateRootProfile(ctx, rootID, in.HeroName, in.FateAlignment, in.Origin); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "identity.profile_updated",
			Changes:   changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return m.db.GetRootIdentity(ctx, rootID)
}

// SetEquippedTitle sets or clears the displayed title, refusing a title the
// root has never been granted.
func (m *Manager) SetEquippedTitle(ctx context.Context, rootID string, titleID *string) error {
	if _, err := m.db.GetRootIdentity(ctx, rootID); err != nil {
		if err == store.ErrNotFound {
			return errors.NotFound("root identity", rootID)
		}
		return err
	}

	if titleID != nil {
		held, err := m.db.HasTitle(ctx, rootID, *titleID)
		if err != nil {
			return err
		}
		if !held {
			return errors.BadRequest("root has not been granted this title")
		}
	}

	_, err := m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.UpdateEquippedTitle(ctx, rootID, titleID); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "identity.equipped_title_changed",
			Payload: map[string]any{
				"title_id": titleID,
			},
		})
		return err
	})
	return err
}
