package tallyimport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const moduleName = "tallyimport"

// importLockTTL must outlive the longest realistic run; the lock is
// released explicitly on completion.
const importLockTTL = 30 * time.Minute

// ParseBatch moves a batch through Parsing and stores the parse outcome.
// Re-parsing a Parsed or MappingConfigured batch is allowed (the operator
// may re-upload patterns and preview again); anything later is not.
func ParseBatch(ctx context.Context, batch *models.ImportBatch) error {
	logger := config.GetLogger()

	if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusParsing); err != nil {
		return err
	}

	data, issues, err := tally.Parse(batch.FileContent, batch.FileFormat)
	if err != nil {
		batch.ErrorMessage = err.Error()
		if issuesJSON, jerr := utils.MarshalToJSON(issues); jerr == nil {
			batch.ValidationIssuesJSON = datatypes.JSON(issuesJSON)
		}
		if terr := models.TransitionImportBatch(ctx, batch, models.BatchStatusFailed); terr != nil {
			return terr
		}
		if serr := models.SaveImportBatch(ctx, batch); serr != nil {
			return serr
		}
		config.LogError(logger, moduleName, "ParseBatch", "source file is not parsable", batch.ID, err)
		return err
	}

	if summaryJSON, jerr := utils.MarshalToJSON(data.Summary); jerr == nil {
		batch.SummaryJSON = datatypes.JSON(summaryJSON)
	}
	if issuesJSON, jerr := utils.MarshalToJSON(issues); jerr == nil {
		batch.ValidationIssuesJSON = datatypes.JSON(issuesJSON)
	}
	if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusParsed); err != nil {
		return err
	}
	if err := models.SaveImportBatch(ctx, batch); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"ledgers":  data.Summary.TotalLedgers,
		"vouchers": data.Summary.TotalVouchers,
		"issues":   len(issues),
	}).Info("batch parsed")
	return nil
}

// ProcessImportRun executes one queued batch run end to end. Only one
// Importing batch may run per business; the per-business lock enforces it
// across instances.
func ProcessImportRun(ctx context.Context, payload ImportRunPayload) error {
	if payload.BatchId == 0 || payload.BusinessId == "" {
		return errors.New("invalid import run payload")
	}
	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)
	if payload.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
	}
	logger := config.GetLogger()

	batch, err := models.GetImportBatch(ctx, payload.BatchId)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		// Queue redelivery after the run already finished.
		return nil
	}
	if batch.Status != models.BatchStatusMappingConfigured && batch.Status != models.BatchStatusParsed {
		return fmt.Errorf("batch %d is not ready to import (status %s)", batch.ID, batch.Status)
	}

	release, err := acquireImportLock(ctx, payload.BusinessId)
	if err != nil {
		return err
	}
	defer release()

	if batch.Status == models.BatchStatusParsed {
		// No mapping was configured; built-in defaults apply.
		if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusMappingConfigured); err != nil {
			return err
		}
	}
	if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusImporting); err != nil {
		return err
	}
	now := time.Now()
	batch.StartedAt = &now
	batch.CancelRequested = false
	if err := models.SaveImportBatch(ctx, batch); err != nil {
		return err
	}

	data, _, parseErr := tally.Parse(batch.FileContent, batch.FileFormat)
	if parseErr != nil {
		return failBatch(ctx, batch, fmt.Errorf("re-parsing source file: %w", parseErr))
	}

	overrides, err := models.ListMappingOverrides(ctx, batch.ID)
	if err != nil {
		return failBatch(ctx, batch, err)
	}

	cfg := payload.Options.Apply(DefaultConfig())
	patterns, err := LoadClassifierPatterns(cfg.PatternsPath)
	if err != nil {
		return failBatch(ctx, batch, err)
	}

	// Live progress is readable while the run is going: each snapshot goes
	// to the sink and to Redis, and the cache is dropped once the batch row
	// carries the final state.
	defer func() {
		_ = config.RemoveRedisKey(progressCacheKey(batch.ID))
	}()

	tracker := NewTracker(batch.ID, NewProgressSink(logger))
	engine := NewEngine(
		models.NewTargetRepository(),
		NewMappingTable(overrides, cfg.SkipUnmapped),
		patterns,
		tracker,
		cfg,
		batch.ID,
	)

	result, runErr := engine.Run(ctx, data)

	tracker.BeginPhase(ctx, models.PhaseFinalizing, 1)
	if err := persistResult(ctx, batch, result); err != nil {
		config.LogError(logger, moduleName, "ProcessImportRun", "persisting run result", batch.ID, err)
		tracker.RecordDone(ctx, false, err.Error())
	} else {
		tracker.RecordDone(ctx, true, "")
	}
	if progressJSON, err := utils.MarshalToJSON(tracker.Snapshot()); err == nil {
		batch.ProgressJSON = datatypes.JSON(progressJSON)
	}

	finished := time.Now()
	batch.FinishedAt = &finished
	if batch.StartedAt != nil {
		batch.DurationMs = finished.Sub(*batch.StartedAt).Milliseconds()
	}

	switch {
	case runErr != nil:
		return failBatch(ctx, batch, runErr)
	case result.Cancelled:
		return failBatch(ctx, batch, utils.ErrorImportCancelled)
	default:
		if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusCompleted); err != nil {
			return err
		}
		if err := models.SaveImportBatch(ctx, batch); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"batch_id": batch.ID,
			"imported": result.Counts.ImportedCount,
			"skipped":  result.Counts.SkippedCount,
			"failed":   result.Counts.FailedCount,
			"suspense": result.Counts.SuspenseCount,
		}).Info("import completed")
		return nil
	}
}

func acquireImportLock(ctx context.Context, businessId string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// Single-instance deployments run without Redis; the status
		// compare-and-set on Importing still serializes runs.
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("import:%s", businessId), importLockTTL, nil)
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("an import is already running for business %s", businessId)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}

func failBatch(ctx context.Context, batch *models.ImportBatch, cause error) error {
	batch.ErrorMessage = cause.Error()
	if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusFailed); err != nil {
		return err
	}
	if err := models.SaveImportBatch(ctx, batch); err != nil {
		return err
	}
	config.LogError(config.GetLogger(), moduleName, "ProcessImportRun", "batch failed", batch.ID, cause)
	if errors.Is(cause, utils.ErrorImportCancelled) {
		return nil
	}
	return cause
}

// persistResult writes the engine outcome into the batch row and its child
// tables. Errors and suspense items are durable state, never log-only.
func persistResult(ctx context.Context, batch *models.ImportBatch, result *Result) error {
	if result == nil {
		return nil
	}
	batch.ImportCount = result.Counts
	batch.TotalDebit = result.TotalDebit
	batch.TotalCredit = result.TotalCredit
	batch.Imbalance = result.Imbalance

	if classJSON, err := utils.MarshalToJSON(result.Classifications); err == nil {
		batch.ClassificationsJSON = datatypes.JSON(classJSON)
	}

	db := config.GetDB()
	if db == nil {
		return nil
	}
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	for i := range result.SuspenseItems {
		result.SuspenseItems[i].BusinessId = businessId
		if err := db.WithContext(ctx).Create(&result.SuspenseItems[i]).Error; err != nil {
			return err
		}
	}
	for i := range result.Errors {
		result.Errors[i].BusinessId = businessId
		if err := db.WithContext(ctx).Create(&result.Errors[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
