// Package pipeline implements the sync engine: watermark-bounded
// incremental fetch into the staging queues, and FIFO push out of them
// with per-record failure isolation and requeue.
//
// Delivery is at-least-once. A crash between fetch and watermark write
// re-fetches an overlapping window; a crash mid-push reprocesses the
// whole batch. Both are absorbed by the correlation-key upsert on push:
// the destination lookup by warrant number must be consistent, which is
// a documented contract requirement on the destination collaborator.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/bootstrap"
	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/geo"
	"github.com/npclinic/databridge/internal/queue"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
	"github.com/npclinic/databridge/internal/watermark"
)

// GeoSource is the fetch-side capability surface of the GEO system.
type GeoSource interface {
	QueryIncidents(ctx context.Context, since string) ([]geo.Feature, error)
	QueryDismissals(ctx context.Context) ([]geo.Feature, error)
	ListAttachments(ctx context.Context, objectID int64) ([]geo.AttachmentInfo, error)
	AttachmentPayload(ctx context.Context, objectID, attachmentID int64) ([]byte, error)
}

// HistorySink is the push-side capability surface of the GEO system.
type HistorySink interface {
	AddHistoryFeatures(ctx context.Context, features []geo.Feature) ([]geo.AddResult, error)
}

// CaseStore is the capability surface of the CMS.
//
// FindCase and FindDocument distinguish "confirmed absent" (ok=false,
// err=nil) from "lookup failed" (err != nil); the push pipeline treats a
// failed lookup as a recoverable per-record error, never as permission
// to create.
type CaseStore interface {
	FindCase(ctx context.Context, groupID, warrantFieldID int64, warrant string) (*cms.CaseDoc, bool, error)
	ListCases(ctx context.Context, opts cms.ListCasesOptions) ([]cms.CaseDoc, error)
	CreateCase(ctx context.Context, create cms.CaseCreate) (int64, error)
	UpdateCase(ctx context.Context, id int64, values []cms.UpdatedFieldValue) error
	ListCalendarEntries(ctx context.Context, calendarID int64, from, to string) ([]cms.CalendarEntry, error)
	CreateCalendarEntry(ctx context.Context, create cms.CalendarEntryCreate) error
	FindDocument(ctx context.Context, caseID int64, externalName string, externalID int64) (bool, error)
	UploadDocument(ctx context.Context, caseID int64, externalName string, externalID int64, name string, payload []byte) error
}

// Bridge wires the collaborators, queues and schema into one sync
// context. It is constructed once per run; there are no package-level
// singletons.
type Bridge struct {
	Geo     GeoSource
	History HistorySink
	Cases   CaseStore

	Incidents   queue.Staging[record.Incident]
	Attachments queue.Staging[record.Attachment]
	Updates     queue.Staging[record.CaseSnapshot]

	Marks  *watermark.Store
	Fields *schema.CustomFields
	Refs   bootstrap.Entities

	Log *zap.Logger

	// Clock supplies the batch timestamp; nil means time.Now.
	Clock func() time.Time
}

func (b *Bridge) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

func (b *Bridge) log() *zap.Logger {
	if b.Log == nil {
		return zap.NewNop()
	}
	return b.Log
}

// FetchStats summarizes one fetch run.
type FetchStats struct {
	Fetched     int
	Staged      int
	Attachments int
}

// PushStats summarizes one push run. Failed records remain queued; a
// partially failed run is still a successful process execution.
type PushStats struct {
	Batches int
	Pushed  int
	Failed  int
}

// Add accumulates another stats value.
func (s *PushStats) Add(o PushStats) {
	s.Batches += o.Batches
	s.Pushed += o.Pushed
	s.Failed += o.Failed
}
