// Package hostmonitor tracks per-host SSH reachability: consecutive
// failures flip a host offline, and a background probe brings it back online
// and signals recovery so suppressions keyed on that host can clear.
package hostmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/metrics"
	"github.com/linnemanlabs/jarvis/internal/store"
)

const (
	defaultThreshold   = 3
	defaultProbePeriod = 5 * time.Minute
)

// Prober performs a lightweight reachability check against host (TCP dial or
// a trivial SSH command), returning nil on success.
type Prober func(ctx context.Context, host string) error

// RecoveryHandler is invoked once, synchronously, the instant a host
// transitions offline -> online.
type RecoveryHandler func(ctx context.Context, host string)

type hostState struct {
	status              store.HostStatusValue
	consecutiveFailures int
	lastSuccess         time.Time
	lastAttempt         time.Time
	lastError           string
}

// Monitor is the in-memory reachability cache, rehydrated from and mirrored
// into Store.
type Monitor struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	threshold int

	store   store.Store
	logger  log.Logger
	metrics *metrics.Metrics

	onRecovery []RecoveryHandler
}

// New creates a Monitor using the default consecutive-failure threshold (3).
func New(st store.Store, logger log.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		hosts:     make(map[string]*hostState),
		threshold: defaultThreshold,
		store:     st,
		logger:    logger,
		metrics:   m,
	}
}

// Rehydrate loads persisted host status into the in-memory cache, called
// once at startup.
func (m *Monitor) Rehydrate(ctx context.Context) error {
	statuses, err := m.store.ListHostStatuses(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hs := range statuses {
		m.hosts[hs.HostName] = &hostState{
			status:              hs.Status,
			consecutiveFailures: hs.ConsecutiveFailures,
			lastSuccess:         hs.LastSuccess,
			lastAttempt:         hs.LastAttempt,
			lastError:           hs.LastError,
		}
	}
	return nil
}

// OnRecovery registers a handler invoked when a host transitions back to
// online. Handlers run synchronously in Record's goroutine; keep them fast.
func (m *Monitor) OnRecovery(h RecoveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovery = append(m.onRecovery, h)
}

// Record reports the outcome of one SSH attempt against host.
func (m *Monitor) Record(ctx context.Context, host string, success bool, errMsg string) {
	m.mu.Lock()
	st, ok := m.hosts[host]
	if !ok {
		st = &hostState{status: store.HostOnline}
		m.hosts[host] = st
	}

	st.lastAttempt = time.Now()
	prevStatus := st.status
	wasOffline := prevStatus == store.HostOffline

	if success {
		st.consecutiveFailures = 0
		st.lastSuccess = st.lastAttempt
		st.lastError = ""
		st.status = store.HostOnline
	} else {
		st.consecutiveFailures++
		st.lastError = errMsg
		if st.consecutiveFailures >= m.threshold {
			st.status = store.HostOffline
		}
	}
	snapshot := *st
	recovered := success && wasOffline
	handlers := append([]RecoveryHandler(nil), m.onRecovery...)
	m.mu.Unlock()

	m.persist(ctx, host, snapshot)

	if m.metrics != nil && snapshot.status != prevStatus {
		m.metrics.HostStatusTotal.WithLabelValues(host, string(snapshot.status)).Inc()
	}

	if !success && snapshot.status == store.HostOffline && snapshot.consecutiveFailures == m.threshold {
		m.logger.Warn(ctx, "host transitioned offline", "host", host, "consecutive_failures", snapshot.consecutiveFailures)
	}

	if recovered {
		m.logger.Info(ctx, "host recovered", "host", host)
		for _, h := range handlers {
			h(ctx, host)
		}
	}
}

func (m *Monitor) persist(ctx context.Context, host string, st hostState) {
	err := m.store.PutHostStatus(ctx, &store.HostStatus{
		HostName:            host,
		Status:               st.status,
		ConsecutiveFailures:  st.consecutiveFailures,
		LastSuccess:          st.lastSuccess,
		LastAttempt:          st.lastAttempt,
		LastError:            st.lastError,
	})
	if err != nil {
		m.logger.Warn(ctx, "failed to persist host status", "host", host, "err", err)
	}
}

// IsOnline reports whether host is currently believed reachable. Unknown
// hosts are treated as online.
func (m *Monitor) IsOnline(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.hosts[host]
	if !ok {
		return true
	}
	return st.status != store.HostOffline
}

// offlineHosts returns the hosts currently marked offline.
func (m *Monitor) offlineHosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for host, st := range m.hosts {
		if st.status == store.HostOffline {
			out = append(out, host)
		}
	}
	return out
}

// RunProbe polls every offline host on defaultProbePeriod using prober until
// ctx is cancelled, calling Record with the probe's outcome.
func RunProbe(ctx context.Context, m *Monitor, prober Prober) {
	ticker := time.NewTicker(defaultProbePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, host := range m.offlineHosts() {
				err := prober(ctx, host)
				if err != nil {
					m.Record(ctx, host, false, err.Error())
					continue
				}
				m.Record(ctx, host, true, "")
			}
		}
	}
}
