package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"log/slog"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
	"github.com/0xBitWishper/buybots/core/logger"
)

// Sink consumes transfer events for a group. Implementations must not block
// for long; event processing for one group is sequential.
type Sink interface {
	HandleTransfer(ctx context.Context, cfg store.GroupConfig, evt chain.TransferEvent)
}

// subscription is the process-local state of one live stream.
type subscription struct {
	groupID int64
	cfg     store.GroupConfig
	stream  chain.Stream
	done    chan struct{}
}

// Manager owns at most one live transfer subscription per group. All
// transitions for a group serialize on a per-group lock, so replace is
// always terminate-then-create and the old stream is fully stopped before
// the new one exists.
type Manager struct {
	chain chain.Client
	store store.Store
	sink  Sink

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
	subs  map[int64]*subscription
}

// NewManager wires the subscription manager.
func NewManager(cl chain.Client, st store.Store, sink Sink) *Manager {
	return &Manager{
		chain: cl,
		store: st,
		sink:  sink,
		locks: make(map[int64]*sync.Mutex),
		subs:  make(map[int64]*subscription),
	}
}

func (m *Manager) groupLock(groupID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[groupID] = l
	}
	return l
}

// Reconcile drives the group's subscription to match cfg. A config without a
// token or with notifications disabled results in no subscription. The old
// stream, if any, is synchronously torn down first.
func (m *Manager) Reconcile(ctx context.Context, groupID int64, cfg store.GroupConfig) error {
	l := m.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	m.terminateLocked(groupID)

	if !cfg.Configured() || !cfg.NotificationsEnabled {
		logger.Watch.Info("subscription cleared",
			slog.String("event", "reconcile"),
			slog.Int64("group_id", groupID),
			slog.Bool("configured", cfg.Configured()),
			slog.Bool("enabled", cfg.NotificationsEnabled),
		)
		return nil
	}

	start := time.Now()
	stream, err := m.chain.SubscribeTransfers(ctx, cfg.NetworkID, cfg.Token.Address)
	if err != nil {
		logger.Watch.Error("subscription create failed",
			slog.String("event", "reconcile"),
			slog.Int64("group_id", groupID),
			slog.String("network", cfg.NetworkID),
			slog.String("address", cfg.Token.Address),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("watch: subscribe group %d: %w", groupID, err)
	}

	sub := &subscription{
		groupID: groupID,
		cfg:     cfg.Clone(),
		stream:  stream,
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[groupID] = sub
	m.mu.Unlock()

	go m.pump(sub)

	logger.Watch.Info("subscription live",
		slog.String("event", "reconcile"),
		slog.Int64("group_id", groupID),
		slog.String("network", cfg.NetworkID),
		slog.String("token", cfg.Token.Symbol),
		slog.String("address", cfg.Token.Address),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

// pump forwards decoded events to the sink until the stream ends.
func (m *Manager) pump(sub *subscription) {
	defer close(sub.done)
	ctx := context.Background()
	for {
		select {
		case evt, ok := <-sub.stream.Events():
			if !ok {
				return
			}
			m.sink.HandleTransfer(ctx, sub.cfg, evt)
		case err, ok := <-sub.stream.Err():
			if !ok {
				return
			}
			if err != nil {
				logger.Watch.Warn("stream terminated upstream",
					slog.String("event", "stream.lost"),
					slog.Int64("group_id", sub.groupID),
					slog.String("network", sub.cfg.NetworkID),
					slog.String("err", err.Error()),
				)
				m.dropIfCurrent(sub)
				return
			}
		}
	}
}

// dropIfCurrent removes the registration only when it still points at sub,
// so a concurrent Reconcile replacing the stream is never clobbered.
func (m *Manager) dropIfCurrent(sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.subs[sub.groupID]; ok && cur == sub {
		delete(m.subs, sub.groupID)
	}
}

// terminateLocked stops the current stream of the group, if any, and waits
// for its pump to exit. Caller holds the group lock.
func (m *Manager) terminateLocked(groupID int64) {
	m.mu.Lock()
	sub, ok := m.subs[groupID]
	if ok {
		delete(m.subs, groupID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.stream.Unsubscribe()
	<-sub.done
	logger.Watch.Debug("subscription stopped",
		slog.String("event", "terminate"),
		slog.Int64("group_id", groupID),
	)
}

// Shutdown tears the group's subscription down. No-op when none is live.
func (m *Manager) Shutdown(ctx context.Context, groupID int64) {
	l := m.groupLock(groupID)
	l.Lock()
	defer l.Unlock()
	m.terminateLocked(groupID)
}

// RestoreAll recreates subscriptions for every configured group with
// notifications enabled. Failures are collected per group; one broken group
// never blocks the rest. Safe to call repeatedly.
func (m *Manager) RestoreAll(ctx context.Context) error {
	configs, err := m.store.ListWithToken(ctx)
	if err != nil {
		return fmt.Errorf("watch: restore: %w", err)
	}

	start := time.Now()
	var errs *multierror.Error
	restored := 0
	for _, cfg := range configs {
		if err := m.Reconcile(ctx, cfg.GroupID, cfg); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		restored++
	}

	logger.Watch.Info("restore complete",
		slog.String("event", "restore"),
		slog.Int("groups", len(configs)),
		slog.Int("subs", restored),
		slog.Int("failed", len(configs)-restored),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return errs.ErrorOrNil()
}

// ShutdownAll stops every live subscription. Used on process shutdown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Shutdown(ctx, id)
	}
	logger.Watch.Info("all subscriptions stopped",
		slog.String("event", "shutdown"),
		slog.Int("subs", len(ids)),
	)
}

// Active reports whether the group currently has a live subscription.
func (m *Manager) Active(groupID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[groupID]
	return ok
}

// ActiveCount returns the number of live subscriptions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
