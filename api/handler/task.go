package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/epub-audiobook/api/middleware"
	"github.com/fyerfyer/epub-audiobook/api/model"
	"github.com/fyerfyer/epub-audiobook/pkg/taskqueue"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var uri model.TaskIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"任务ID不能为空",
		))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"任务未找到",
			))
			return
		}

		h.logger.WithError(err).WithField("task_id", uri.ID).Error("Failed to get task")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务状态失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskToMap(task)))
}

// GetBookTasks 获取书籍相关的所有任务
// GET /api/books/:id/tasks
func (h *TaskHandler) GetBookTasks(c *gin.Context) {
	var uri model.BookIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"书籍ID不能为空",
		))
		return
	}

	tasks, err := h.queue.GetTasksByBook(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.WithError(err).WithField("book_id", uri.ID).Error("Failed to get book tasks")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取书籍任务列表失败: "+err.Error(),
		))
		return
	}

	tasksInfo := make([]map[string]interface{}, len(tasks))
	for i, task := range tasks {
		tasksInfo[i] = taskToMap(task)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"book_id": uri.ID,
		"tasks":   tasksInfo,
	}))
}

// taskToMap 将任务转换为JSON安全的Map
func taskToMap(task *taskqueue.Task) map[string]interface{} {
	info := map[string]interface{}{
		"id":         task.ID,
		"type":       string(task.Type),
		"book_id":    task.BookID,
		"status":     string(task.Status),
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}

	if task.Error != "" {
		info["error"] = task.Error
	}

	if len(task.Result) > 0 {
		var result map[string]interface{}
		if err := json.Unmarshal(task.Result, &result); err == nil {
			info["result"] = result
		}
	}

	return info
}
