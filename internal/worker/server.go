package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"ripple/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 和 Scheduler 的启动和关闭逻辑
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	sweeper   *Sweeper
	log       *logrus.Entry
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, sweeper *Sweeper, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger: logEntry,
		},
	)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logEntry})

	return &WorkerServer{
		server:    server,
		scheduler: scheduler,
		sweeper:   sweeper,
		log:       logEntry,
	}
}

// Start 注册周期任务并启动 Scheduler 与 Worker
func (ws *WorkerServer) Start() error {
	payload, err := tasks.NewRoomSweepTask(ws.sweeper.now())
	if err != nil {
		return err
	}
	schedule := "@every " + ws.sweeper.Interval().String()
	entryID, err := ws.scheduler.Register(schedule, asynq.NewTask(tasks.TypeRoomSweep, payload), asynq.Queue("default"), asynq.MaxRetry(0))
	if err != nil {
		return err
	}
	ws.log.Infof("Periodic room sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := ws.scheduler.Start(); err != nil {
		return err
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeRoomSweep, NewSweepHandler(ws.sweeper).ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		ws.scheduler.Shutdown()
		return err
	}
	return nil
}

// Shutdown 优雅地关闭 Scheduler 和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
