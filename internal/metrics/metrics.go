// Package metrics 注册服务的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerRequests 链上RPC请求数，按方法和结果统计
	LedgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdfund",
		Subsystem: "ledger",
		Name:      "requests_total",
		Help:      "Solana RPC requests by method and result.",
	}, []string{"method", "result"})

	// LedgerRequestDuration RPC耗时（包含限流等待）
	LedgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crowdfund",
		Subsystem: "ledger",
		Name:      "request_duration_seconds",
		Help:      "Solana RPC latency including rate-limit wait.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// Contributions 贡献处理结果
	Contributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdfund",
		Name:      "contributions_total",
		Help:      "Contribution admissions by outcome.",
	}, []string{"outcome"})

	// QueueRunning 准入队列中正在执行的任务数
	QueueRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdfund",
		Subsystem: "queue",
		Name:      "running",
		Help:      "Contribution tasks currently executing.",
	})

	// Launches 发币流程结果
	Launches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdfund",
		Name:      "launches_total",
		Help:      "Token launch attempts by outcome.",
	}, []string{"outcome"})

	// LaunchStepFailures 发币各步骤失败次数
	LaunchStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdfund",
		Subsystem: "launch",
		Name:      "step_failures_total",
		Help:      "Token launch step failures by step.",
	}, []string{"step"})
)
