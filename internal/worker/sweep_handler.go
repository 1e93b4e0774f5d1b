package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"ripple/internal/tasks"
)

// SweepHandler 处理由 asynq 调度的房间清理任务
type SweepHandler struct {
	sweeper *Sweeper
}

// NewSweepHandler 创建 Handler 实例
func NewSweepHandler(sweeper *Sweeper) *SweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for SweepHandler")
	}
	return &SweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口。
// 清理失败的房间在下个周期重试，所以任务本身总是返回成功，避免 asynq 立即重试。
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	var payload tasks.RoomSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	result := h.sweeper.Sweep(context.WithoutCancel(ctx))
	logCtx.WithFields(logrus.Fields{
		"registered_at": payload.RegisteredAt,
		"expired":       result.Expired,
		"failed":        result.Failed,
	}).Debug("Room sweep task processed")
	return nil
}
