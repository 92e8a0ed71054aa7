// Package supervisor владеет хэндлом live-потока и хэндлом задачи
// обслуживания за одной сериализующей блокировкой и гоняет периодический
// цикл стоп-live/переобнаружение/перекраул/перевступление/new-only-бэкфилл/
// рестарт-live.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"teleosint/internal/backfill"
	"teleosint/internal/config"
	"teleosint/internal/crawl"
	"teleosint/internal/discovery"
	"teleosint/internal/infra/logger"
	"teleosint/internal/live"
	"teleosint/internal/resolver"
)

const (
	liveStopDeadline  = 10 * time.Second
	maintPollInterval = 5 * time.Second
)

// Supervisor держит хэндл live-потока, хэндл цикла обслуживания и
// блокировку, делающую цикл обслуживания и live-стриминг взаимно
// исключающими: live всегда останавливается до начала обслуживания.
type Supervisor struct {
	cfg       *config.Config
	api       *tg.Client
	live      *live.Stream
	discovery *discovery.Discovery
	crawl     *crawl.Crawl
	backfill  *backfill.Backfill
	resolver  *resolver.Resolver
	dialogs   *resolver.DialogCache
	seeds     []string

	mu sync.Mutex

	// liveEntities — область видимости live-потока по id чатов;
	// пересобирается из разрешённых целей обслуживания на каждом цикле,
	// чтобы перезапущенный live хвостил обновлённый набор каналов.
	liveEntities []int64

	liveRunning bool
	liveCancel  context.CancelFunc
	liveDone    chan struct{}

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// New собирает Supervisor из уже сконструированных коллабораторов. seeds —
// настроенный список seed_channels, переиспользуемый как базовый набор для
// краула каждого цикла обслуживания.
func New(cfg *config.Config, api *tg.Client, liveStream *live.Stream, disc *discovery.Discovery, cr *crawl.Crawl, bf *backfill.Backfill, res *resolver.Resolver, dialogs *resolver.DialogCache, seeds []string) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		api:       api,
		live:      liveStream,
		discovery: disc,
		crawl:     cr,
		backfill:  bf,
		resolver:  res,
		dialogs:   dialogs,
		seeds:     seeds,
	}
}

// StartLive запускает live-поток, если он ещё не работает.
func (s *Supervisor) StartLive(entityIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLiveLocked(entityIDs)
}

func (s *Supervisor) startLiveLocked(entityIDs []int64) {
	if s.liveRunning {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.liveCancel = cancel
	s.liveDone = make(chan struct{})
	s.liveRunning = true

	go func() {
		s.live.Start(runCtx, entityIDs)
		close(s.liveDone)
	}()
}

// StopLive сигналит live-потоку остановиться и ждёт до 10 секунд, по
// таймауту — отменяет.
func (s *Supervisor) StopLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLiveLocked()
}

func (s *Supervisor) stopLiveLocked() {
	if !s.liveRunning {
		return
	}
	s.live.Stop()

	select {
	case <-s.liveDone:
	case <-time.After(liveStopDeadline):
		logger.Warn("supervisor: live stop deadline exceeded, cancelling")
		if s.liveCancel != nil {
			s.liveCancel()
		}
		<-s.liveDone
	}
	s.liveRunning = false
	s.liveCancel = nil
}

// MaintenanceOnce гоняет один цикл обслуживания: опционально discovery,
// опционально краул по seeds ∪ найденному, вступление во всё найденное,
// опционально new-only бэкфилл, затем обновление кэша диалогов и пересборка
// области видимости live-потока из разрешённых целей.
func (s *Supervisor) MaintenanceOnce(ctx context.Context) {
	targets := append([]string(nil), s.seeds...)

	if s.cfg.Maintenance.RunDiscover && s.discovery != nil {
		discovered := s.discovery.Run(ctx)
		targets = append(targets, discovered...)
	}

	if s.cfg.Maintenance.RunCrawl && s.crawl != nil {
		found := s.crawl.Run(ctx, targets)
		targets = append(targets, found...)
	}

	targets = dedupe(targets)

	for _, ref := range targets {
		s.resolver.EnsureJoin(ctx, ref)
	}

	if s.cfg.Maintenance.BackfillNewOnly && s.backfill != nil {
		s.backfill.Run(ctx, targets, backfill.ModeNewOnly)
	}

	if s.dialogs != nil && s.api != nil {
		if err := resolver.BootstrapDialogCache(ctx, s.api, s.dialogs, nil); err != nil {
			logger.Debug("supervisor: dialog cache refresh skipped", zap.Error(err))
		}
	}

	s.liveEntities = s.entitiesFromRefs(ctx, targets)
}

// entitiesFromRefs разрешает каждую цель в её id чата, отбрасывая ссылки,
// оставшиеся неразрешёнными. Результат задаёт область видимости следующего
// старта live-потока.
func (s *Supervisor) entitiesFromRefs(ctx context.Context, refs []string) []int64 {
	if s.resolver == nil {
		return nil
	}
	ids := make([]int64, 0, len(refs))
	seen := make(map[int64]struct{}, len(refs))
	for _, ref := range refs {
		entity, ok := s.resolver.GetEntitySafe(ctx, ref)
		if !ok {
			continue
		}
		if _, dup := seen[entity.ChatID]; dup {
			continue
		}
		seen[entity.ChatID] = struct{}{}
		ids = append(ids, entity.ChatID)
	}
	return ids
}

// MaintenanceLoop гоняет MaintenanceOnce каждые interval секунд,
// останавливая live перед циклом и безусловно перезапуская его с
// обновлёнными сущностями на выходе. Гранулярность опроса — 5 секунд;
// interval<=0 полностью выключает цикл. Блокируется до отмены ctx.
func (s *Supervisor) MaintenanceLoop(ctx context.Context, intervalSec int) {
	if intervalSec <= 0 {
		return
	}
	interval := time.Duration(intervalSec) * time.Second
	next := time.Now().Add(interval)

	ticker := time.NewTicker(maintPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().Before(next) {
				continue
			}
			next = time.Now().Add(interval)
			s.runCycle(ctx)
		}
	}
}

func (s *Supervisor) runCycle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLiveLocked()

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("supervisor: maintenance cycle panic recovered", zap.Any("panic", r))
			}
		}()
		s.MaintenanceOnce(ctx)
	}()

	s.startLiveLocked(s.liveEntities)
}

// Shutdown останавливает live и отменяет цикл обслуживания, проглатывая
// ошибки.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.maintCancel != nil {
		s.maintCancel()
	}
	s.stopLiveLocked()
	done := s.maintDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// RunMaintenanceLoop запускает MaintenanceLoop в фоне под отменяемым
// контекстом супервизора, чтобы Shutdown мог его остановить.
func (s *Supervisor) RunMaintenanceLoop(intervalSec int) {
	s.mu.Lock()
	if s.maintCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.maintCancel = cancel
	s.maintDone = make(chan struct{})
	done := s.maintDone
	s.mu.Unlock()

	go func() {
		s.MaintenanceLoop(ctx, intervalSec)
		close(done)
	}()
}

func dedupe(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
