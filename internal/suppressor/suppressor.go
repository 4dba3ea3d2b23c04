// Package suppressor is the Suppressor: it decides whether an incoming
// alert should be silently absorbed because a known root-cause alert is
// already active, offline, on the same host.
package suppressor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/hostmonitor"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/store"
)

const defaultTTL = 15 * time.Minute

// summaryThrottle bounds how often the consolidated notification repeats
// for a host that remains offline.
const summaryThrottle = 10 * time.Minute

// cascade is the static root_cause -> suppressible children table, plus the
// "*" wildcard used by HostMaintenance.
var cascade = map[string][]string{
	"HostMaintenance": {"*"},
	"HostDown":        {"ContainerDown", "ContainerUnhealthy", "ServiceUnreachable", "DiskFull", "HighMemoryUsage"},
	"HostOffline":     {"ContainerDown", "ContainerUnhealthy", "ServiceUnreachable"},
}

// Suppressor tracks active suppressions, backed by Store and rehydrated into
// an in-memory cache on startup for hot-path checks.
type Suppressor struct {
	mu       sync.Mutex
	store    store.Store
	notifier notify.Notifier
	logger   log.Logger

	active        map[string]activeSuppression // host -> active suppression
	lastSummaryAt map[string]time.Time
	countSince    map[string]int
}

type activeSuppression struct {
	rootCauseAlert string
	until          time.Time
}

// New creates a Suppressor.
func New(st store.Store, n notify.Notifier, logger log.Logger) *Suppressor {
	return &Suppressor{
		store:         st,
		notifier:      n,
		logger:        logger,
		active:        make(map[string]activeSuppression),
		lastSummaryAt: make(map[string]time.Time),
		countSince:    make(map[string]int),
	}
}

// Rehydrate loads active suppressions from Store into the in-memory cache.
func (s *Suppressor) Rehydrate(ctx context.Context) error {
	sups, err := s.store.ListActiveSuppressions(ctx)
	if err != nil {
		return fmt.Errorf("list active suppressions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sup := range sups {
		host := hostFromInstance(sup.RootCauseInstance)
		if host != "" {
			s.active[host] = activeSuppression{rootCauseAlert: sup.RootCauseAlert, until: sup.SuppressedUntil}
		}
	}
	return nil
}

// IsRootCause reports whether alertName triggers cascading suppression.
func IsRootCause(alertName string) bool {
	_, ok := cascade[alertName]
	return ok
}

// isSuppressibleChild reports whether childName is covered by a suppression
// raised for rootCauseAlert.
func isSuppressibleChild(rootCauseAlert, childName string) bool {
	children, ok := cascade[rootCauseAlert]
	if !ok {
		return false
	}
	for _, c := range children {
		if c == "*" || c == childName {
			return true
		}
	}
	return false
}

// Activate starts a suppression window for host, triggered by rootCauseAlert,
// when HostMonitor reports the host offline. Persists to Store and emits a
// consolidated notification.
func (s *Suppressor) Activate(ctx context.Context, rootCauseAlert, host string) error {
	until := time.Now().Add(defaultTTL)
	_, err := s.store.PutSuppression(ctx, &store.Suppression{
		RootCauseAlert:    rootCauseAlert,
		RootCauseInstance: host + ":*",
		SuppressedUntil:   until,
		Reason:            fmt.Sprintf("%s offline", host),
	})
	if err != nil {
		return fmt.Errorf("put suppression: %w", err)
	}

	s.mu.Lock()
	s.active[host] = activeSuppression{rootCauseAlert: rootCauseAlert, until: until}
	s.countSince[host] = 0
	shouldNotify := s.shouldNotifyLocked(host)
	if shouldNotify {
		s.lastSummaryAt[host] = time.Now()
	}
	s.mu.Unlock()

	if shouldNotify && s.notifier != nil {
		_ = s.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindSuppressionSummary,
			AlertName: rootCauseAlert,
			Analysis:  fmt.Sprintf("alerts suppressed: host %s is offline", host),
		})
	}
	return nil
}

// ShouldSuppress checks whether a is a suppressible child of an active
// root-cause suppression on its host. It increments the throttled-summary
// counter and may emit a consolidated notification on a throttled cadence.
func (s *Suppressor) ShouldSuppress(ctx context.Context, a alert.Alert) bool {
	host := a.Host()
	if host == "" {
		return false
	}

	s.mu.Lock()
	sup, ok := s.active[host]
	if !ok || time.Now().After(sup.until) {
		s.mu.Unlock()
		return false
	}
	if !isSuppressibleChild(sup.rootCauseAlert, a.Name()) {
		s.mu.Unlock()
		return false
	}
	s.countSince[host]++
	notifyDue := s.shouldNotifyLocked(host)
	if notifyDue {
		s.lastSummaryAt[host] = time.Now()
	}
	count := s.countSince[host]
	s.mu.Unlock()

	if notifyDue && s.notifier != nil {
		_ = s.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindSuppressionSummary,
			AlertName: a.Name(),
			Analysis:  fmt.Sprintf("%d alerts suppressed due to host %s offline", count, host),
		})
	}
	return true
}

// shouldNotifyLocked reports whether a consolidated notification is due for
// host, given the throttle. Caller must hold s.mu.
func (s *Suppressor) shouldNotifyLocked(host string) bool {
	last, ok := s.lastSummaryAt[host]
	return !ok || time.Since(last) >= summaryThrottle
}

// Clear removes the in-memory and durable suppression state for host, called
// when HostMonitor reports a recovery.
func (s *Suppressor) Clear(ctx context.Context, host string) {
	s.mu.Lock()
	delete(s.active, host)
	delete(s.lastSummaryAt, host)
	delete(s.countSince, host)
	s.mu.Unlock()

	if _, err := s.store.ClearSuppressionsForHost(ctx, host); err != nil {
		s.logger.Error(ctx, err, "clear suppressions failed", "host", host)
	}
}

// OnHostRecovery wires Clear as a hostmonitor.RecoveryHandler.
func (s *Suppressor) OnHostRecovery(ctx context.Context, host string) {
	s.Clear(ctx, host)
}

var _ hostmonitor.RecoveryHandler = (*Suppressor)(nil).OnHostRecovery

func hostFromInstance(instance string) string {
	for i, r := range instance {
		if r == ':' {
			return instance[:i]
		}
	}
	return instance
}
