package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/webgate/webgate/internal/metrics"
)

const (
	// MaxChecks 是注册表允许的探针上限。
	MaxChecks = 10
	// ProbeTimeout 是单个探针在一次聚合中的最长等待时间。
	ProbeTimeout = 500 * time.Millisecond
)

var (
	// ErrCapacityExceeded is returned when registering beyond MaxChecks.
	ErrCapacityExceeded = errors.New("health check capacity exceeded")
	// ErrDuplicateCheck is returned when the plugin/check key is already present.
	ErrDuplicateCheck = errors.New("health check already registered")
	// ErrInvalidProbe is returned for a nil probe.
	ErrInvalidProbe = errors.New("health probe is required")
)

// Probe 由注册方实现，返回 true 表示健康。错误等同于 false。
type Probe func(ctx context.Context) (bool, error)

// Options 为 Registry 注入日志、指标与时钟。
type Options struct {
	Logger   *logrus.Logger
	Recorder metrics.Recorder
	Clock    clock.Clock
	// ClusterID 为空时使用主机名。
	ClusterID string
}

// Registry 保存 key → probe 映射，注册后不可移除。
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Probe
	order  []string

	logger    *logrus.Logger
	recorder  metrics.Recorder
	clock     clock.Clock
	clusterID string
}

// NewRegistry 创建空注册表。
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ClusterID == "" {
		opts.ClusterID = hostname()
	}
	return &Registry{
		checks:    make(map[string]Probe, MaxChecks),
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		clock:     opts.Clock,
		clusterID: opts.ClusterID,
	}
}

// Key 拼接 pluginName-checkName 形式的注册键。
func Key(pluginName, checkName string) string {
	return pluginName + "-" + checkName
}

// Register 在容量与唯一性检查通过后保存探针；检查与写入在同一把锁内完成。
func (r *Registry) Register(pluginName, checkName string, probe Probe) error {
	if probe == nil {
		return ErrInvalidProbe
	}
	key := Key(pluginName, checkName)

	r.mu.Lock()
	if len(r.checks) >= MaxChecks {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w (max %d)", key, ErrCapacityExceeded, MaxChecks)
	}
	if _, exists := r.checks[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrDuplicateCheck)
	}
	r.checks[key] = probe
	r.order = append(r.order, key)
	count := len(r.checks)
	r.mu.Unlock()

	r.recorder.HealthChecksRegistered(count)
	r.logger.WithFields(logrus.Fields{
		"action": "health_register",
		"check":  key,
		"count":  count,
	}).Info("health check registered")
	return nil
}

// Len 返回已注册探针数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checks)
}

// Keys 按注册顺序返回全部 key。
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Meta 是与请求相关、需要回显在报告中的字段。
type Meta struct {
	RequestID string
	Hostname  string
}

// Report 是 /health 的响应体。
type Report struct {
	RequestID       string          `json:"requestId"`
	Checks          map[string]bool `json:"checks"`
	RequestHostname string          `json:"requestHostname"`
	Time            int64           `json:"time"`
	Alive           bool            `json:"alive"`
	ClusterID       string          `json:"clusterId"`
}

// Aggregate 并发执行全部探针，每个探针与独立的 ProbeTimeout 计时器竞速。
// 每次调用使用自己的结果表；超时后仍在运行的探针只会写入已被放弃的缓冲 channel。
func (r *Registry) Aggregate(ctx context.Context, meta Meta) Report {
	r.mu.RLock()
	snapshot := make(map[string]Probe, len(r.checks))
	for key, probe := range r.checks {
		snapshot[key] = probe
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]bool, len(snapshot))
		g       errgroup.Group
	)
	for key, probe := range snapshot {
		g.Go(func() error {
			ok := r.race(ctx, key, probe)
			if !ok {
				r.recorder.ProbeFailed(key)
			}
			mu.Lock()
			results[key] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		RequestID:       meta.RequestID,
		Checks:          results,
		RequestHostname: meta.Hostname,
		Time:            r.clock.Now().UnixMilli(),
		Alive:           true,
		ClusterID:       r.clusterID,
	}
}

type outcome struct {
	ok  bool
	err error
}

// race 先创建计时器再启动探针，保证计时从探针开始前算起。
func (r *Registry) race(ctx context.Context, key string, probe Probe) bool {
	timer := r.clock.Timer(ProbeTimeout)
	defer timer.Stop()

	done := make(chan outcome, 1)
	go func() {
		ok, err := runProbe(ctx, probe)
		done <- outcome{ok: ok, err: err}
	}()

	fields := logrus.Fields{"action": "health_probe", "check": key}
	select {
	case res := <-done:
		if res.err != nil {
			r.logger.WithFields(fields).WithError(res.err).Debug("health probe failed")
			return false
		}
		return res.ok
	case <-timer.C:
		r.logger.WithFields(fields).Debugf("health probe timed out after %s", ProbeTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func runProbe(ctx context.Context, probe Probe) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = fmt.Errorf("probe panicked: %v", rec)
		}
	}()
	return probe(ctx)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
