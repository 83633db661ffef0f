package connectivity

import (
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober 探测后端是否可达
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc 适配普通函数
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type Listener func(online bool)

// Monitor 维护在线状态，只在状态切换时通知订阅者
type Monitor struct {
	prober  Prober
	timeout time.Duration

	mu        sync.RWMutex
	online    bool
	interval  time.Duration
	listeners map[int]Listener
	nextID    int

	intervalChanged chan struct{}
}

func NewMonitor(prober Prober, interval, timeout time.Duration, initialOnline bool) *Monitor {
	m := &Monitor{
		prober:          prober,
		timeout:         timeout,
		online:          initialOnline,
		interval:        interval,
		listeners:       make(map[int]Listener),
		intervalChanged: make(chan struct{}, 1),
	}
	monitoring.ConnectivityOnline.Set(boolGauge(initialOnline))
	return m
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set 更新在线状态，状态发生变化时同步通知订阅者，返回是否发生了切换
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	monitoring.ConnectivityOnline.Set(boolGauge(online))
	logger.Log.Info("Connectivity changed", zap.Bool("online", online))

	for _, l := range listeners {
		l(online)
	}
	return true
}

// Subscribe 注册状态切换回调，返回取消订阅函数
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	changed := m.interval != d
	m.interval = d
	m.mu.Unlock()

	if changed {
		select {
		case m.intervalChanged <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// Probe 立即探测一次并更新状态
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	if err != nil && ctx.Err() != nil {
		// 自身被取消，不代表后端不可达
		return m.Online()
	}
	if err != nil {
		logger.Log.Debug("Backend probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Run 周期性探测，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	timer := time.NewTimer(m.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.intervalChanged:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.Interval())
		case <-timer.C:
			m.Probe(ctx)
			timer.Reset(m.Interval())
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
