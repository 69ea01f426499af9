package vault

import (
	"context"
	"errors"
	"sync"

	"github.com/alwitt/quickvault/auth"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
)

const observerSnapshotBuffer = 4

/*
ObserveAll stream record listing snapshots as the store changes

	@param ctx context.Context - execution context
	@return snapshot channel, and an idempotent cancel function
*/
func (r *recordServiceImpl) ObserveAll(
	ctx context.Context,
) (<-chan RecordSnapshot, func(), error) {
	return r.ObserveSearch(ctx, SearchQuery{})
}

/*
ObserveSearch stream snapshots of a metadata search

	@param ctx context.Context - execution context
	@param query SearchQuery - search conditions
	@return snapshot channel, and an idempotent cancel function
*/
func (r *recordServiceImpl) ObserveSearch(
	ctx context.Context, query SearchQuery,
) (<-chan RecordSnapshot, func(), error) {
	if err := r.gateUnlocked(ctx); err != nil {
		return nil, nil, err
	}

	changes, cancelChanges := r.persistence.SubscribeToChanges()
	states, cancelStates := r.session.States()

	out := make(chan RecordSnapshot, observerSnapshotBuffer)
	stop := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			cancelChanges()
			cancelStates()
		})
	}

	go r.observeWorker(ctx, query, out, stop, changes, states, cancel)

	return out, cancel, nil
}

// observeWorker drive one observer stream until cancel or lock
func (r *recordServiceImpl) observeWorker(
	ctx context.Context,
	query SearchQuery,
	out chan RecordSnapshot,
	stop <-chan struct{},
	changes <-chan db.ChangeNotice,
	states <-chan auth.SessionState,
	cancel func(),
) {
	defer close(out)
	defer cancel()

	logTags := r.GetLogTagsForContext(ctx)

	// Opening snapshot
	if !r.emitSnapshot(ctx, query, 0, out) {
		return
	}

	for {
		select {
		case <-stop:
			return

		case state, ok := <-states:
			if !ok {
				return
			}
			// Streams do not outlive the session
			if state != auth.SessionStateUnlocked {
				log.WithFields(logTags).Debug("Session closed, ending observer stream")
				return
			}

		case notice, ok := <-changes:
			if !ok {
				return
			}
			if !noticeCoversRecords(notice) {
				continue
			}
			if !r.emitSnapshot(ctx, query, notice.Seq, out) {
				return
			}
		}
	}
}

// noticeCoversRecords whether a change notice touches the record tables
func noticeCoversRecords(notice db.ChangeNotice) bool {
	return notice.Touched(db.RecordDBEntry{}.TableName()) ||
		notice.Touched(db.FieldDBEntry{}.TableName()) ||
		notice.Touched(db.AttachmentDBEntry{}.TableName())
}

// emitSnapshot query, decrypt, and deliver one snapshot, dropping the oldest
// pending one when the subscriber lags. Reports false when the stream should
// end.
func (r *recordServiceImpl) emitSnapshot(
	ctx context.Context, query SearchQuery, seq uint64, out chan RecordSnapshot,
) bool {
	logTags := r.GetLogTagsForContext(ctx)

	var views []RecordView
	if dbErr := r.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			views, err = r.searchViews(dbCtx, dbClient, query)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, models.ErrLocked) {
			// Session locked mid-decrypt. The in-flight snapshot is discarded
			// and the stream ends.
			log.WithFields(logTags).Debug("Session locked during snapshot assembly")
			return false
		}
		log.WithError(dbErr).WithFields(logTags).Error("Observer snapshot query failed")
		return false
	}

	snapshot := RecordSnapshot{Seq: seq, Records: views}
	for {
		select {
		case out <- snapshot:
			return true
		default:
			// Subscriber lagging. Drop the oldest pending snapshot and retry.
			select {
			case dropped := <-out:
				wipeViews(dropped.Records)
			default:
			}
		}
	}
}
