package webhook

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/conversation"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
	"github.com/zulandar/listingdesk/internal/pipeline"
	"github.com/zulandar/listingdesk/internal/workflow"
	"gorm.io/gorm"
)

func handleSendMessage(out *pipeline.Outbound) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in pipeline.SendInput
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, bindError(err))
			return
		}
		res, err := out.Send(c.Request.Context(), userID(c), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func handleMarkRead(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleDeleteMessage(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleContactMessages lists a contact's conversation, newest first.
func handleContactMessages(gdb *gorm.DB, store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		var n int64
		if err := gdb.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", id).Count(&n).Error; err != nil {
			writeError(c, fmt.Errorf("webhook: contact %s: %w", id, err))
			return
		}
		if n == 0 {
			writeError(c, fmt.Errorf("contact %s: %w", id, apperr.ErrNotFound))
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		msgs, err := store.ListForContact(ctx, id, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

func handleEvent(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			writeError(c, bindError(err))
			return
		}
		runs, err := engine.Dispatch(c.Request.Context(), ev)
		if err != nil {
			writeError(c, err)
			return
		}
		if runs == nil {
			runs = []workflow.RunOutcome{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func handleCreateWorkflow(store *workflow.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			writeError(c, apperr.Invalid("body", err.Error()))
			return
		}
		wf, err := store.Create(c.Request.Context(), userID(c), body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, wf)
	}
}

func handleListWorkflows(store *workflow.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		wfs, err := store.List(c.Request.Context(), userID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"workflows": wfs})
	}
}

// ownedWorkflow loads a workflow, hiding other users' workflows as not found.
func ownedWorkflow(c *gin.Context, store *workflow.Store, id string) (*models.Workflow, error) {
	wf, err := store.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if wf.UserID != userID(c) {
		return nil, fmt.Errorf("workflow %s: %w", id, apperr.ErrNotFound)
	}
	return wf, nil
}

type activeRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

func handleSetWorkflowActive(store *workflow.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, bindError(err))
			return
		}
		wf, err := ownedWorkflow(c, store, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := store.SetActive(c.Request.Context(), wf.ID, *req.IsActive); err != nil {
			writeError(c, err)
			return
		}
		wf.IsActive = *req.IsActive
		c.JSON(http.StatusOK, wf)
	}
}

func handleWorkflowRuns(store *workflow.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		wf, err := ownedWorkflow(c, store, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		runs, err := store.Runs(c.Request.Context(), wf.ID, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func handleCancelRun(store *workflow.Store, engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := store.GetRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if _, err := ownedWorkflow(c, store, run.WorkflowID); err != nil {
			writeError(c, fmt.Errorf("workflow run %s: %w", run.ID, apperr.ErrNotFound))
			return
		}
		run, err = engine.Cancel(c.Request.Context(), run.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}
