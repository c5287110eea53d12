// Package roadmap mirrors aggregated feature requests into a Notion
// database, one page per feature.
package roadmap

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/pkg/notion"
)

// Roadmap database property names.
const (
	PropName        = "Name"
	PropFeatureID   = "Feature ID"
	PropFeatureKey  = "Feature Key"
	PropWorkspace   = "Workspace"
	PropProductArea = "Product Area"
	PropMentions    = "Mentions"
	PropConfidence  = "Confidence"
	PropFirstSeen   = "First Seen"
	PropLastSeen    = "Last Seen"
)

// indexThreshold is the number of unlinked features at which one paged
// query of the database beats a lookup per feature.
const indexThreshold = 5

// FeatureStore is the store surface the syncer needs.
type FeatureStore interface {
	ListFeatureRequests(ctx context.Context, workspaceID string) ([]model.FeatureRequest, error)
	MarkFeatureSynced(ctx context.Context, id, pageID string, at time.Time) error
}

// Result counts the outcome of one sync.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Syncer pushes feature requests to Notion.
type Syncer struct {
	client notion.Client
	store  FeatureStore
	dbID   string
	now    func() time.Time
}

// NewSyncer returns a Syncer writing to the Notion database dbID.
func NewSyncer(client notion.Client, st FeatureStore, dbID string) *Syncer {
	return &Syncer{client: client, store: st, dbID: dbID, now: time.Now}
}

// Sync creates or updates a page for every feature in the workspace ("" for
// all). A feature without a recorded page is first looked up by id so a
// sync interrupted before MarkFeatureSynced does not create duplicates.
// Per-feature failures are logged and counted.
func (s *Syncer) Sync(ctx context.Context, workspaceID string) (Result, error) {
	var res Result
	features, err := s.store.ListFeatureRequests(ctx, workspaceID)
	if err != nil {
		return res, eris.Wrap(err, "roadmap: list feature requests")
	}

	var index map[string]string
	if unlinked(features) >= indexThreshold {
		index, err = s.pageIndex(ctx, workspaceID)
		if err != nil {
			zap.L().Warn("roadmap: page index failed, looking up pages one by one", zap.Error(err))
			index = nil
		}
	}

	for _, fr := range features {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "roadmap: sync cancelled")
		}
		created, err := s.syncOne(ctx, fr, index)
		if err != nil {
			res.Failed++
			zap.L().Warn("roadmap: sync feature failed",
				zap.String("feature_id", fr.ID),
				zap.String("title", fr.Title),
				zap.Error(err),
			)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	zap.L().Info("roadmap: sync complete",
		zap.String("workspace_id", workspaceID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// syncOne upserts one feature's page. index, when non-nil, maps feature
// ids to existing page ids and replaces the per-feature lookup.
func (s *Syncer) syncOne(ctx context.Context, fr model.FeatureRequest, index map[string]string) (created bool, err error) {
	pageID := ""
	switch {
	case fr.NotionPageID != nil:
		pageID = *fr.NotionPageID
	case index != nil:
		pageID = index[fr.ID]
	default:
		page, err := notion.FindByText(ctx, s.client, s.dbID, PropFeatureID, fr.ID)
		if err != nil {
			return false, err
		}
		if page != nil {
			pageID = string(page.ID)
		}
	}

	props := Properties(fr)
	if pageID == "" {
		page, err := s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(s.dbID),
			},
			Properties: props,
		})
		if err != nil {
			return false, err
		}
		pageID, created = string(page.ID), true
	} else if _, err := s.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
		return false, err
	}

	if err := s.store.MarkFeatureSynced(ctx, fr.ID, pageID, s.now().UTC()); err != nil {
		return created, eris.Wrap(err, "roadmap: mark synced")
	}
	return created, nil
}

// pageIndex reads every roadmap page in scope and maps its Feature ID to
// the page id.
func (s *Syncer) pageIndex(ctx context.Context, workspaceID string) (map[string]string, error) {
	var filter *notionapi.DatabaseQueryRequest
	if workspaceID != "" {
		filter = &notionapi.DatabaseQueryRequest{
			Filter: notionapi.PropertyFilter{
				Property: PropWorkspace,
				RichText: &notionapi.TextFilterCondition{Equals: workspaceID},
			},
			PageSize: 100,
		}
	}
	pages, err := notion.QueryAll(ctx, s.client, s.dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "roadmap: index pages")
	}
	index := make(map[string]string, len(pages))
	for _, page := range pages {
		if id := notion.PlainText(page.Properties[PropFeatureID]); id != "" {
			index[id] = string(page.ID)
		}
	}
	return index, nil
}

func unlinked(features []model.FeatureRequest) int {
	n := 0
	for _, fr := range features {
		if fr.NotionPageID == nil {
			n++
		}
	}
	return n
}

// Properties renders a feature request as roadmap page properties.
func Properties(fr model.FeatureRequest) notionapi.Properties {
	props := notionapi.Properties{
		PropName:       notion.Title(fr.Title),
		PropFeatureID:  notion.RichText(fr.ID),
		PropFeatureKey: notion.RichText(fr.FeatureKey),
		PropWorkspace:  notion.RichText(fr.WorkspaceID),
		PropMentions:   notion.Number(float64(fr.MentionCount)),
		PropConfidence: notion.Number(fr.MaxConfidence),
		PropFirstSeen:  notion.Date(fr.FirstSeenAt),
		PropLastSeen:   notion.Date(fr.LastSeenAt),
	}
	if fr.ProductArea != "" {
		props[PropProductArea] = notion.Select(fr.ProductArea)
	}
	return props
}
