// Package task 运行后台定时任务
package task

import (
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler  gocron.Scheduler
	campaigns  repository.CampaignRepository
	dispatcher Dispatcher
	completer  Completer
	config     *config.Config
}

// NewManager 创建新的任务管理器
func NewManager(campaigns repository.CampaignRepository, dispatcher Dispatcher, completer Completer, cfg *config.Config) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Manager{
		scheduler:  s,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		completer:  completer,
		config:     cfg,
	}, nil
}

// Start 注册所有任务并启动调度器
func (m *Manager) Start() {
	m.RegisterJobs()
	m.scheduler.Start()
	logger.Info("Task manager started successfully")
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	interval := config.Seconds(m.config.Task.Interval)
	m.register(NewLaunchResumeJob(m.campaigns, m.dispatcher, ResumeSettings{
		Interval:    interval,
		StaleAfter:  config.Seconds(m.config.Launch.StaleAfter),
		MaxAttempts: m.config.Launch.MaxAttempts,
	}))
	m.register(NewCompletionRecheckJob(m.campaigns, m.completer, interval))
}

func (m *Manager) register(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
		return
	}
	logger.Info("Registered job %s", job.GetName())
}

// Stop 停止任务管理器
func (m *Manager) Stop(timeout time.Duration) {
	done := make(chan error, 1)
	go func() {
		done <- m.scheduler.Shutdown()
	}()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("Failed to shutdown scheduler: %v", err)
		}
	case <-time.After(timeout):
		logger.Warn("Scheduler shutdown timed out after %s", timeout)
	}
	logger.Info("Task manager stopped")
}
