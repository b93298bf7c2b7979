package tallyimport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
)

// RegisterRoutes mounts the import API under the given group.
func RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/batches", UploadHandler())
	group.GET("/batches", BatchHistoryHandler())
	group.GET("/batches/:id", BatchDetailHandler())
	group.PUT("/batches/:id/mapping", ConfigureMappingHandler())
	group.POST("/batches/:id/start", StartImportHandler())
	group.GET("/batches/:id/progress", ProgressHandler())
	group.POST("/batches/:id/cancel", CancelImportHandler())
	group.POST("/batches/:id/rollback", RollbackHandler())
	group.POST("/pubsub/push", PubSubPushHandler())
}

// UploadHandler accepts the export file, creates the batch, and parses it
// synchronously so the response already carries the preview summary and
// validation issues.
func UploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		format := tally.FileFormat(strings.ToLower(strings.TrimSpace(c.PostForm("format"))))
		if format == "" {
			format = formatFromFileName(fileHeader.Filename)
		}
		if !format.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file format"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		checksum := sha256.Sum256(content)

		batch, err := models.CreateImportBatch(ctx, &models.NewImportBatch{
			ImportType:    models.ImportType(c.PostForm("import_type")),
			FileName:      fileHeader.Filename,
			FileFormat:    format,
			FileSizeBytes: int64(len(content)),
			FileChecksum:  hex.EncodeToString(checksum[:]),
			FileContent:   content,
			TriggeredBy:   models.ImportTriggeredManual,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := ParseBatch(ctx, batch); err != nil {
			// The batch row records the failure; surface it alongside.
			c.JSON(http.StatusUnprocessableEntity, gin.H{"batch": batch, "error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"batch": batch})
	}
}

func BatchHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if parsed, perr := strconv.Atoi(raw); perr == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}
		var after *string
		if raw := c.Query("after"); raw != "" {
			after = &raw
		}
		var status *string
		if raw := c.Query("status"); raw != "" {
			status = &raw
		}

		connection, err := models.PaginateImportBatches(ctx, &limit, after, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func BatchDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, batch, ok := fetchBatch(c)
		if !ok {
			return
		}

		response := batchStatusResponse{Batch: batch}
		if items, err := models.ListSuspenseItems(ctx, batch.ID); err == nil {
			response.SuspenseItems = items
		}
		if records, err := models.ListImportErrors(ctx, batch.ID); err == nil {
			response.Errors = records
		}
		if overrides, err := models.ListMappingOverrides(ctx, batch.ID); err == nil {
			response.MappingOverrides = overrides
		}
		c.JSON(http.StatusOK, response)
	}
}

// ConfigureMappingHandler replaces the batch's override set. Repeatable:
// the batch stays in MappingConfigured and the latest call wins.
func ConfigureMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		if batch.Status != models.BatchStatusParsed && batch.Status != models.BatchStatusMappingConfigured {
			c.JSON(http.StatusConflict, gin.H{"error": "batch is not ready for mapping configuration"})
			return
		}
		if batch.Status == models.BatchStatusMappingConfigured && config.StrictBatchImmutability() {
			c.JSON(http.StatusConflict, gin.H{"error": "mapping is already configured and locked"})
			return
		}

		var req configureMappingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		overrides, err := models.ReplaceMappingOverrides(ctx, batch.ID, req.Overrides)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if batch.Status == models.BatchStatusParsed {
			if err := models.TransitionImportBatch(ctx, batch, models.BatchStatusMappingConfigured); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"batch": batch, "overrides": overrides})
	}
}

func StartImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		if batch.Status != models.BatchStatusParsed && batch.Status != models.BatchStatusMappingConfigured {
			c.JSON(http.StatusConflict, gin.H{"error": "batch is not ready to import"})
			return
		}

		var req startImportRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
		}

		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		payload := ImportRunPayload{
			BatchId:       batch.ID,
			BusinessId:    businessId,
			CorrelationId: correlationId,
			Options:       req.Options,
		}
		if err := PublishImportRun(ctx, payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"batch_id": batch.ID, "queued": true})
	}
}

func ProgressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		// A running batch has a fresher snapshot in Redis than on the row,
		// which is only written when the run finishes.
		var live ProgressSnapshot
		if found, err := config.GetRedisObject(progressCacheKey(batch.ID), &live); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"batch_id": batch.ID,
				"status":   batch.Status,
				"progress": live,
				"counts":   batch.ImportCount,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"batch_id": batch.ID,
			"status":   batch.Status,
			"progress": batch.ProgressJSON,
			"counts":   batch.ImportCount,
		})
	}
}

func CancelImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		batch, err := models.RequestImportCancel(ctx, batch.ID)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"batch": batch, "cancel_requested": true})
	}
}

func RollbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, batch, ok := fetchBatch(c)
		if !ok {
			return
		}

		var req rollbackRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		opts := RollbackOptions{
			DeleteTransactions: utils.DereferencePtr(req.DeleteTransactions, true),
			DeleteMasters:      utils.DereferencePtr(req.DeleteMasters, true),
			Reason:             req.Reason,
		}

		manager := NewRollbackManager(models.NewTargetRepository(), nil)
		summary, err := manager.Rollback(ctx, batch, opts)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "summary": summary})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch": batch, "summary": summary})
	}
}

// fetchBatch resolves auth, the batch id path param, and the batch row.
// On failure it has already written the error response.
func fetchBatch(c *gin.Context) (context.Context, *models.ImportBatch, bool) {
	businessId, err := resolveBusinessID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, nil, false
	}
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return nil, nil, false
	}
	batch, err := models.GetImportBatch(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return nil, nil, false
	}
	return ctx, batch, true
}

func resolveBusinessID(c *gin.Context) (string, error) {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && strings.TrimSpace(businessId) != "" {
		return businessId, nil
	}
	if businessId := strings.TrimSpace(c.Query("business_id")); businessId != "" {
		return businessId, nil
	}
	if businessId := strings.TrimSpace(c.GetHeader("X-Business-Id")); businessId != "" {
		return businessId, nil
	}
	return "", errors.New("unauthorized")
}

func formatFromFileName(name string) tally.FileFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xml"):
		return tally.FileFormatXML
	case strings.HasSuffix(lower, ".json"):
		return tally.FileFormatJSON
	case strings.HasSuffix(lower, ".xlsx"):
		return tally.FileFormatXLSX
	}
	return ""
}
