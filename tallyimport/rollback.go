package tallyimport

import (
	"context"
	"fmt"
	"time"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
	"github.com/sirupsen/logrus"
)

type RollbackOptions struct {
	DeleteTransactions bool   `json:"delete_transactions"`
	DeleteMasters      bool   `json:"delete_masters"`
	Reason             string `json:"reason"`
}

type RetainedMaster struct {
	Kind       models.TargetEntityKind `json:"kind"`
	Id         int                     `json:"id"`
	SourceGuid string                  `json:"source_guid"`
	Reason     string                  `json:"reason"`
}

// RollbackSummary reports what was deleted and what was deliberately left
// in place. A retained master is a warning, never an error.
type RollbackSummary struct {
	BatchId             int              `json:"batch_id"`
	DeletedTransactions int              `json:"deleted_transactions"`
	DeletedMasters      int              `json:"deleted_masters"`
	RetainedMasters     []RetainedMaster `json:"retained_masters"`
	Warnings            []string         `json:"warnings"`
}

// EntityRefSource abstracts the batch's entity-ref manifest so the rollback
// walk can run against an in-memory fake.
type EntityRefSource interface {
	ListRefs(ctx context.Context, batchId int, recordType tally.RecordType) ([]models.ImportEntityRef, error)
	DeleteRef(ctx context.Context, refId int) error
}

type dbRefSource struct{}

func (dbRefSource) ListRefs(ctx context.Context, batchId int, recordType tally.RecordType) ([]models.ImportEntityRef, error) {
	return models.ListEntityRefsForBatch(ctx, batchId, recordType)
}

func (dbRefSource) DeleteRef(ctx context.Context, refId int) error {
	return models.DeleteEntityRef(ctx, refId)
}

// RollbackManager undoes one batch in reverse dependency order: journal
// entries first, then opening-balance adjustments, then masters. Master
// deletion is guarded, not forced: a row referenced by anything the batch
// did not create is retained with a warning.
type RollbackManager struct {
	repo models.TargetRepository
	refs EntityRefSource
}

func NewRollbackManager(repo models.TargetRepository, refs EntityRefSource) *RollbackManager {
	if refs == nil {
		refs = dbRefSource{}
	}
	return &RollbackManager{repo: repo, refs: refs}
}

func (m *RollbackManager) Rollback(ctx context.Context, batch *models.ImportBatch, opts RollbackOptions) (*RollbackSummary, error) {
	if !batch.Status.Rollbackable() {
		return nil, fmt.Errorf("batch %d cannot be rolled back from status %s", batch.ID, batch.Status)
	}
	summary := &RollbackSummary{BatchId: batch.ID}

	if opts.DeleteTransactions {
		for _, rt := range []tally.RecordType{tally.RecordTypeVoucher, tally.RecordTypeOpeningBalance} {
			count, err := m.repo.DeleteByBatchTag(ctx, batch.ID, rt)
			if err != nil {
				return summary, fmt.Errorf("deleting %s records of batch %d: %w", rt, batch.ID, err)
			}
			summary.DeletedTransactions += count
			if err := m.deleteRefs(ctx, batch.ID, rt); err != nil {
				return summary, err
			}
		}
	}

	if opts.DeleteMasters {
		if err := m.rollbackMasters(ctx, batch.ID, summary); err != nil {
			return summary, err
		}
	}

	if err := m.finalizeBatch(ctx, batch, opts, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// masterRollbackOrder is the reverse of the import dependency order.
func masterRollbackOrder() []tally.RecordType {
	forward := tally.RecordTypesInDependencyOrder()
	reversed := make([]tally.RecordType, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		rt := forward[i]
		if rt == tally.RecordTypeVoucher || rt == tally.RecordTypeOpeningBalance {
			continue
		}
		reversed = append(reversed, rt)
	}
	return reversed
}

func (m *RollbackManager) rollbackMasters(ctx context.Context, batchId int, summary *RollbackSummary) error {
	for _, rt := range masterRollbackOrder() {
		refs, err := m.refs.ListRefs(ctx, batchId, rt)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			referenced, err := m.repo.ReferencedOutsideBatch(ctx, batchId, ref.TargetKind, ref.TargetId)
			if err != nil {
				return err
			}
			if referenced {
				reason := fmt.Sprintf("%s %d is referenced outside batch %d; retained", ref.TargetKind, ref.TargetId, batchId)
				summary.RetainedMasters = append(summary.RetainedMasters, RetainedMaster{
					Kind:       ref.TargetKind,
					Id:         ref.TargetId,
					SourceGuid: ref.SourceGuid,
					Reason:     reason,
				})
				summary.Warnings = append(summary.Warnings, reason)
				continue
			}
			if err := m.repo.DeleteRecord(ctx, ref.TargetKind, ref.TargetId); err != nil {
				return err
			}
			summary.DeletedMasters++
			if err := m.refs.DeleteRef(ctx, ref.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *RollbackManager) deleteRefs(ctx context.Context, batchId int, recordType tally.RecordType) error {
	refs, err := m.refs.ListRefs(ctx, batchId, recordType)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := m.refs.DeleteRef(ctx, ref.ID); err != nil {
			return err
		}
	}
	return nil
}

// finalizeBatch records the rollback as an audit event on the batch itself.
// Batch history is never erased.
func (m *RollbackManager) finalizeBatch(ctx context.Context, batch *models.ImportBatch, opts RollbackOptions, summary *RollbackSummary) error {
	if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusRolledBack); err != nil {
		return err
	}
	username, _ := utils.GetUsernameFromContext(ctx)
	now := time.Now()
	batch.RolledBackBy = username
	batch.RollbackReason = opts.Reason
	batch.RolledBackAt = &now
	if err := models.SaveImportBatch(ctx, batch); err != nil {
		return err
	}

	config.GetLogger().WithFields(logrus.Fields{
		"batch_id":             batch.ID,
		"deleted_transactions": summary.DeletedTransactions,
		"deleted_masters":      summary.DeletedMasters,
		"retained_masters":     len(summary.RetainedMasters),
	}).Info("batch rolled back")
	return nil
}
