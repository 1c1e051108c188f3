package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/geo"
	"github.com/npclinic/databridge/internal/mapper"
	"github.com/npclinic/databridge/internal/record"
)

// PushGeo drains the staged incident and attachment batches into the
// CMS, oldest batch first. A failed record is kept in its batch via
// requeue and retried next run; the rest of the batch proceeds.
//
// In migration mode the per-record case lookup is skipped and every
// incident creates a new case, with a calendar entry for any hearing
// still in the future.
func (b *Bridge) PushGeo(ctx context.Context, migrate bool) (PushStats, error) {
	stats, err := b.pushIncidents(ctx, migrate)
	if err != nil {
		return stats, err
	}

	attachStats, err := b.pushAttachments(ctx, migrate)
	stats.Add(attachStats)
	return stats, err
}

func (b *Bridge) pushIncidents(ctx context.Context, migrate bool) (PushStats, error) {
	var stats PushStats

	batches, err := b.Incidents.Pending()
	if err != nil {
		return stats, err
	}

	for _, name := range batches {
		incidents, err := b.Incidents.Read(name)
		if err != nil {
			return stats, err
		}
		stats.Batches++

		var failed []record.Incident
		for i := range incidents {
			inc := &incidents[i]
			if err := b.upsertIncident(ctx, migrate, inc); err != nil {
				b.log().Warn("incident push failed",
					zap.String("batch", name),
					zap.String("warrant", inc.Warrant),
					zap.Int64("object_id", inc.ObjectID),
					zap.Error(err))
				failed = append(failed, *inc)
				continue
			}
			stats.Pushed++
		}
		stats.Failed += len(failed)

		if err := b.Incidents.Requeue(name, failed); err != nil {
			return stats, fmt.Errorf("failed to requeue batch %s: %w", name, err)
		}
	}
	return stats, nil
}

// upsertIncident creates or updates the case correlated by warrant
// number. A lookup error fails the record for retry; only a confirmed
// absence falls through to create.
func (b *Bridge) upsertIncident(ctx context.Context, migrate bool, inc *record.Incident) error {
	if !migrate {
		doc, found, err := b.Cases.FindCase(ctx, b.Refs.GroupID, b.Fields.FieldID(record.CMSWarrant), inc.Warrant)
		if err != nil {
			return fmt.Errorf("case lookup failed: %w", err)
		}
		if found {
			values, ok := mapper.UpdateFieldValues(inc, doc)
			if !ok {
				// No addressable summary field on the case; nothing to
				// update.
				return nil
			}
			if err := b.Cases.UpdateCase(ctx, doc.ID, values); err != nil {
				return fmt.Errorf("case update failed: %w", err)
			}
			return nil
		}
	}

	values, err := mapper.CreateFieldValues(inc, b.Fields)
	if err != nil {
		return err
	}

	caseID, err := b.Cases.CreateCase(ctx, cms.CaseCreate{
		Description:    inc.Location,
		ClientID:       b.Refs.ClientID,
		GroupID:        b.Refs.GroupID,
		PracticeAreaID: b.Refs.PracticeAreaID,
		FieldValues:    values,
	})
	if err != nil {
		return fmt.Errorf("case create failed: %w", err)
	}

	if migrate && inc.NextCourtDate > b.now().UnixMilli() {
		// The case exists at this point; requeueing it for a calendar
		// failure would create a duplicate, so this is warn-only.
		hearing := mapper.EpochMillisToISO(inc.NextCourtDate)
		err := b.Cases.CreateCalendarEntry(ctx, cms.CalendarEntryCreate{
			Name:        inc.Defendant,
			Description: inc.LatestNotes,
			StartAt:     hearing,
			EndAt:       hearing,
			CalendarID:  b.Refs.CalendarID,
			CaseID:      caseID,
		})
		if err != nil {
			b.log().Warn("calendar entry create failed",
				zap.Int64("case_id", caseID),
				zap.String("warrant", inc.Warrant),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Bridge) pushAttachments(ctx context.Context, migrate bool) (PushStats, error) {
	var stats PushStats

	batches, err := b.Attachments.Pending()
	if err != nil {
		return stats, err
	}

	for _, name := range batches {
		attachments, err := b.Attachments.Read(name)
		if err != nil {
			return stats, err
		}
		stats.Batches++

		var failed []record.Attachment
		for i := range attachments {
			att := &attachments[i]
			if err := b.uploadAttachment(ctx, migrate, att); err != nil {
				b.log().Warn("attachment push failed",
					zap.String("batch", name),
					zap.String("warrant", att.Warrant),
					zap.Int64("attachment_id", att.ID),
					zap.Error(err))
				failed = append(failed, *att)
				continue
			}
			stats.Pushed++
		}
		stats.Failed += len(failed)

		if err := b.Attachments.Requeue(name, failed); err != nil {
			return stats, fmt.Errorf("failed to requeue batch %s: %w", name, err)
		}
	}
	return stats, nil
}

// uploadAttachment copies one GEO attachment onto its correlated case.
// The document's external id property makes re-upload a no-op, so a
// reprocessed batch never duplicates documents. An attachment whose case
// does not exist yet stays queued; its incident may still be waiting in
// a retry batch of its own.
func (b *Bridge) uploadAttachment(ctx context.Context, migrate bool, att *record.Attachment) error {
	doc, found, err := b.Cases.FindCase(ctx, b.Refs.GroupID, b.Fields.FieldID(record.CMSWarrant), att.Warrant)
	if err != nil {
		return fmt.Errorf("case lookup failed: %w", err)
	}
	if !found {
		return fmt.Errorf("no case for warrant %s", att.Warrant)
	}

	if !migrate {
		exists, err := b.Cases.FindDocument(ctx, doc.ID, record.CMSDocumentExternalID, att.ID)
		if err != nil {
			return fmt.Errorf("document lookup failed: %w", err)
		}
		if exists {
			return nil
		}
	}

	payload, err := b.Geo.AttachmentPayload(ctx, att.ObjectID, att.ID)
	if err != nil {
		return fmt.Errorf("attachment download failed: %w", err)
	}

	if err := b.Cases.UploadDocument(ctx, doc.ID, record.CMSDocumentExternalID, att.ID, att.Name, payload); err != nil {
		return fmt.Errorf("document upload failed: %w", err)
	}
	return nil
}

// PushCMS drains the staged case snapshots into the GEO history layer,
// oldest batch first. Snapshots go up as one bulk add per batch; the
// service reports per-feature success, and only the failed features are
// requeued.
func (b *Bridge) PushCMS(ctx context.Context) (PushStats, error) {
	var stats PushStats

	batches, err := b.Updates.Pending()
	if err != nil {
		return stats, err
	}

	for _, name := range batches {
		snapshots, err := b.Updates.Read(name)
		if err != nil {
			return stats, err
		}
		stats.Batches++

		var failed []record.CaseSnapshot
		var features []geo.Feature
		var mapped []int
		for i := range snapshots {
			snap := &snapshots[i]
			if !snap.Valid() {
				b.log().Warn("snapshot missing location, dropping",
					zap.String("batch", name),
					zap.Int64("case_id", snap.CaseID),
					zap.String("warrant", snap.Warrant))
				continue
			}
			feature, err := mapper.HistoryFeature(snap)
			if err != nil {
				b.log().Warn("snapshot mapping failed",
					zap.String("batch", name),
					zap.Int64("case_id", snap.CaseID),
					zap.String("warrant", snap.Warrant),
					zap.Error(err))
				failed = append(failed, *snap)
				continue
			}
			features = append(features, feature)
			mapped = append(mapped, i)
		}

		if len(features) > 0 {
			results, err := b.History.AddHistoryFeatures(ctx, features)
			if err != nil {
				// The whole call failed; every mapped snapshot stays
				// queued for the next run.
				b.log().Warn("history add failed", zap.String("batch", name), zap.Error(err))
				for _, i := range mapped {
					failed = append(failed, snapshots[i])
				}
			} else {
				for j, res := range results {
					if j >= len(mapped) {
						break
					}
					if res.Success {
						stats.Pushed++
						continue
					}
					failed = append(failed, snapshots[mapped[j]])
				}
			}
		}
		stats.Failed += len(failed)

		if err := b.Updates.Requeue(name, failed); err != nil {
			return stats, fmt.Errorf("failed to requeue batch %s: %w", name, err)
		}
	}
	return stats, nil
}
