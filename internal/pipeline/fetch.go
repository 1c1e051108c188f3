package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/mapper"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/watermark"
)

// FetchGeo pulls incident features changed since the GEO watermark,
// enriches them with dismissal status from the history layer, stages
// them (and their attachment listings) as batch files, and only then
// advances the watermark.
//
// The new watermark is captured before the fetch begins, so records that
// change mid-fetch are re-fetched next run: a small overlap is preferred
// over a gap. maxRecords caps the result set, not the query.
func (b *Bridge) FetchGeo(ctx context.Context, maxRecords int) (FetchStats, error) {
	var stats FetchStats
	stamp := record.Timestamp(b.now())

	since, ok := b.Marks.Read(watermark.PullGeo)
	if !ok {
		b.log().Info("no geo watermark, fetching full history")
	}

	features, err := b.Geo.QueryIncidents(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("incident query failed: %w", err)
	}
	stats.Fetched = len(features)
	if maxRecords > 0 && len(features) > maxRecords {
		features = features[:maxRecords]
	}

	incidents := make([]record.Incident, 0, len(features))
	for _, f := range features {
		incidents = append(incidents, *record.IncidentFromAttrs(f.Attributes, f.Geometry))
	}

	b.enrichDismissals(ctx, incidents)

	if err := b.Incidents.Enqueue(stamp, incidents); err != nil {
		// Watermark untouched: the same window is re-fetched next run.
		return stats, fmt.Errorf("failed to stage incident batch: %w", err)
	}
	stats.Staged = len(incidents)

	attachments := b.listAttachments(ctx, incidents)
	if err := b.Attachments.Enqueue(stamp, attachments); err != nil {
		return stats, fmt.Errorf("failed to stage attachment batch: %w", err)
	}
	stats.Attachments = len(attachments)

	if err := b.Marks.Write(watermark.PullGeo, stamp); err != nil {
		return stats, fmt.Errorf("failed to advance geo watermark: %w", err)
	}

	b.log().Info("geo fetch complete",
		zap.String("since", since),
		zap.String("watermark", stamp),
		zap.Int("fetched", stats.Fetched),
		zap.Int("staged", stats.Staged),
		zap.Int("attachments", stats.Attachments))
	return stats, nil
}

// enrichDismissals joins the latest dismissal status onto each incident
// by warrant number. A failed or empty lookup degrades to absent fields;
// it never aborts the batch.
func (b *Bridge) enrichDismissals(ctx context.Context, incidents []record.Incident) {
	if len(incidents) == 0 {
		return
	}

	rows, err := b.Geo.QueryDismissals(ctx)
	if err != nil {
		b.log().Warn("dismissal enrichment unavailable", zap.Error(err))
		return
	}

	type dismissal struct {
		status    string
		condition string
	}
	byWarrant := make(map[string]dismissal, len(rows))
	for _, row := range rows {
		warrant, _ := row.Attributes[record.HistWarrant].(string)
		if warrant == "" {
			continue
		}
		status, _ := row.Attributes[record.HistDismissStatus].(string)
		condition, _ := row.Attributes[record.HistDismissedCondition].(string)
		byWarrant[warrant] = dismissal{status: status, condition: condition}
	}

	for i := range incidents {
		if d, ok := byWarrant[incidents[i].Warrant]; ok {
			incidents[i].DismissStatus = d.status
			incidents[i].DismissedCondition = d.condition
		}
	}
}

// listAttachments fetches the attachment listing for each staged
// incident. A failed listing loses only that incident's attachments for
// this run; the incident itself is already staged.
func (b *Bridge) listAttachments(ctx context.Context, incidents []record.Incident) []record.Attachment {
	var attachments []record.Attachment
	for i := range incidents {
		inc := &incidents[i]
		infos, err := b.Geo.ListAttachments(ctx, inc.ObjectID)
		if err != nil {
			b.log().Warn("attachment listing failed",
				zap.Int64("object_id", inc.ObjectID),
				zap.String("warrant", inc.Warrant),
				zap.Error(err))
			continue
		}
		for _, info := range infos {
			attachments = append(attachments, record.Attachment{
				ID:          info.ID,
				ObjectID:    inc.ObjectID,
				Warrant:     inc.Warrant,
				ContentType: info.ContentType,
				Size:        info.Size,
				Name:        info.Name,
			})
		}
	}
	return attachments
}

// FetchCMS pulls cases changed since the CMS watermark, joins each
// case's next scheduled hearing from the calendar, and stages snapshots
// of the cases worth reflecting on the GEO side: dismissed ones and ones
// with an upcoming hearing.
func (b *Bridge) FetchCMS(ctx context.Context, maxRecords int) (FetchStats, error) {
	var stats FetchStats
	stamp := record.Timestamp(b.now())

	since, ok := b.Marks.Read(watermark.PullCMS)
	if !ok {
		b.log().Info("no cms watermark, fetching full history")
	}

	changed, err := b.Cases.ListCases(ctx, listOpts(b.Refs.GroupID, since, nil))
	if err != nil {
		return stats, fmt.Errorf("case listing failed: %w", err)
	}
	stats.Fetched = len(changed)
	if maxRecords > 0 && len(changed) > maxRecords {
		changed = changed[:maxRecords]
	}

	entries, err := b.Cases.ListCalendarEntries(ctx, b.Refs.CalendarID, since, stamp)
	if err != nil {
		return stats, fmt.Errorf("calendar listing failed: %w", err)
	}

	// Most recent entry wins per case.
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartAt > entries[j].StartAt })
	nextByCase := make(map[int64]int, len(entries))
	var entryCaseIDs []int64
	for i, e := range entries {
		if e.Matter == nil {
			continue
		}
		if _, seen := nextByCase[e.Matter.ID]; !seen {
			nextByCase[e.Matter.ID] = i
			entryCaseIDs = append(entryCaseIDs, e.Matter.ID)
		}
	}

	docs := make(map[int64]*cms.CaseDoc, len(changed))
	for i := range changed {
		docs[changed[i].ID] = &changed[i]
	}
	if len(entryCaseIDs) > 0 {
		withEntries, err := b.Cases.ListCases(ctx, listOpts(b.Refs.GroupID, "", entryCaseIDs))
		if err != nil {
			return stats, fmt.Errorf("calendar case listing failed: %w", err)
		}
		for i := range withEntries {
			docs[withEntries[i].ID] = &withEntries[i]
		}
	}

	var snapshots []record.CaseSnapshot
	for id, doc := range docs {
		var hearing, notes string
		if idx, ok := nextByCase[id]; ok {
			hearing = entries[idx].StartAt
			notes = entries[idx].Description
		}
		snap := mapper.SnapshotFromCase(doc, b.Fields, hearing, notes)
		if snap.CourtStatus == "Dismissed" || snap.NextHearing != "" {
			snapshots = append(snapshots, *snap)
		}
	}
	// Map iteration order is random; keep batch content deterministic.
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].CaseID < snapshots[j].CaseID })

	if err := b.Updates.Enqueue(stamp, snapshots); err != nil {
		return stats, fmt.Errorf("failed to stage case batch: %w", err)
	}
	stats.Staged = len(snapshots)

	if err := b.Marks.Write(watermark.PullCMS, stamp); err != nil {
		return stats, fmt.Errorf("failed to advance cms watermark: %w", err)
	}

	b.log().Info("cms fetch complete",
		zap.String("since", since),
		zap.String("watermark", stamp),
		zap.Int("fetched", stats.Fetched),
		zap.Int("staged", stats.Staged))
	return stats, nil
}

func listOpts(groupID int64, updatedSince string, ids []int64) cms.ListCasesOptions {
	return cms.ListCasesOptions{GroupID: groupID, UpdatedSince: updatedSince, IDs: ids}
}

// MigrateGeo performs the initial bulk load: a full (or capped) GEO
// fetch with dismissal enrichment, a push in migration mode, then a
// bump of the CMS watermark to one second past now so the first
// incremental CMS pull does not echo back the cases the migration just
// created.
func (b *Bridge) MigrateGeo(ctx context.Context, maxRecords int) (FetchStats, PushStats, error) {
	fetchStats, err := b.FetchGeo(ctx, maxRecords)
	if err != nil {
		return fetchStats, PushStats{}, err
	}

	pushStats, err := b.PushGeo(ctx, true)
	if err != nil {
		return fetchStats, pushStats, err
	}

	bumped := record.Timestamp(b.now().Add(time.Second))
	if err := b.Marks.Write(watermark.PullCMS, bumped); err != nil {
		return fetchStats, pushStats, fmt.Errorf("failed to bump cms watermark: %w", err)
	}
	return fetchStats, pushStats, nil
}
