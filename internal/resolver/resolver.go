// Package resolver разрешает ссылки на чаты ("@name", "t.me/...",
// инвайт-ссылки) в сущности чатов, с обработкой FloodWait и локальным кэшем,
// плюс хелпер "вступить перед чтением", нужный краулеру и супервизору.
// Кэш диалогов принадлежит вызывающей стороне (супервизору) и передаётся по
// ссылке, а не живёт синглтоном на уровне пакета.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"teleosint/internal/config"
	"teleosint/internal/infra/logger"
	"teleosint/internal/model"
	telegramruntime "teleosint/internal/telegram/runtime"
)

// DialogCache индексирует разрешённые сущности по username в нижнем регистре;
// строится один раз при старте из списка вступленных диалогов и обновляется
// циклом обслуживания супервизора. Это владеемое состояние, не синглтон
// пакета: вызывающая сторона создаёт его и передаёт по ссылке в Resolver,
// Discovery и Crawl.
type DialogCache struct {
	mu sync.RWMutex
	m  map[string]model.Entity
}

// NewDialogCache возвращает пустой кэш.
func NewDialogCache() *DialogCache {
	return &DialogCache{m: make(map[string]model.Entity)}
}

// Get возвращает закэшированную сущность для username, если она есть.
func (c *DialogCache) Get(username string) (model.Entity, bool) {
	key := model.NormalizeUsername(username)
	if key == "" {
		return model.Entity{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[key]
	return e, ok
}

// Set сохраняет или заменяет сущность под её собственным username.
func (c *DialogCache) Set(e model.Entity) {
	key := e.NormalizedUsername()
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = e
}

// Len сообщает число закэшированных сущностей.
func (c *DialogCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// CooldownMap ведёт по каждому чату срок "не расширять раньше чем" для
// гейта качества краулера. Тоже владеемое состояние, передаётся по ссылке,
// а не хранится синглтоном пакета.
type CooldownMap struct {
	mu    sync.Mutex
	until map[int64]time.Time
}

// NewCooldownMap возвращает пустую карту кулдаунов.
func NewCooldownMap() *CooldownMap {
	return &CooldownMap{until: make(map[int64]time.Time)}
}

// MarkLowQuality запрещает повторное расширение chatID до now+cooldown.
func (c *CooldownMap) MarkLowQuality(chatID int64, cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[chatID] = time.Now().Add(cooldown)
}

// IsBlocked сообщает, остывает ли ещё chatID, лениво выселяя запись, срок
// которой истёк.
func (c *CooldownMap) IsBlocked(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[chatID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.until, chatID)
		return false
	}
	return true
}

// Resolver разрешает ChatRef в Entity и вступает в чаты, оба пути — с
// ограниченной терпимостью к FloodWait. Транспортную ошибку вызывающей
// стороне он не возвращает никогда: каждый путь сбоя схлопывается в
// "unresolved".
type Resolver struct {
	api   *tg.Client
	cache *DialogCache
	peers *PeerCache // необязателен; nil выключает персистентность между рестартами

	maxWaitOnFlood   time.Duration
	floodWaitPadding time.Duration
}

// New собирает Resolver над api и cache, используя бюджет FloodWait из
// crawl-конфига (его делят discovery и краулер). peers может быть nil; если
// задан, каждая свежеразрешённая сущность сохраняется в него, чтобы
// следующий рестарт процесса стартовал с тёплым кэшем.
func New(api *tg.Client, cache *DialogCache, peers *PeerCache, cfg config.CrawlConfig) *Resolver {
	return &Resolver{
		api:              api,
		cache:            cache,
		peers:            peers,
		maxWaitOnFlood:   time.Duration(cfg.MaxWaitOnFloodS) * time.Second,
		floodWaitPadding: time.Duration(cfg.FloodWaitPaddingS) * time.Second,
	}
}

// cacheEntity записывает e и в кэш в памяти, и, если настроен, в
// персистентный кэш пиров.
func (r *Resolver) cacheEntity(e model.Entity) {
	r.cache.Set(e)
	if r.peers != nil {
		_ = r.peers.Save(e)
	}
}

// usernameKey извлекает ключ кэша из ref, если это ссылка "@name" или
// "t.me/name" (не инвайт); возвращает "", когда ref требует живого
// разрешения (инвайт-ссылка или нечто, что кэш не может проиндексировать).
func usernameKey(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "@") {
		return model.NormalizeUsername(trimmed)
	}
	if strings.HasPrefix(trimmed, "http") && strings.Contains(trimmed, "t.me/") {
		tail := strings.Trim(strings.SplitN(trimmed, "t.me/", 2)[1], "/")
		if tail != "" && !strings.HasPrefix(tail, "+") {
			return model.NormalizeUsername(strings.SplitN(tail, "/", 2)[0])
		}
	}
	return ""
}

// GetEntitySafe разрешает ref, предпочитая кэш диалогов. На сетевом
// FloodWait в пределах бюджета спит и ретраит ровно один раз; любой другой
// сбой или FloodWait сверх бюджета дают ok=false ("unresolved").
func (r *Resolver) GetEntitySafe(ctx context.Context, ref string) (model.Entity, bool) {
	if key := usernameKey(ref); key != "" {
		if e, ok := r.cache.Get(key); ok {
			return e, true
		}
	}

	entity, err := r.resolveUsername(ctx, ref)
	if err == nil {
		r.cacheEntity(entity)
		return entity, true
	}

	wait, isFlood := tgerr.AsFloodWait(err)
	if !isFlood {
		return model.Entity{}, false
	}
	if wait > r.maxWaitOnFlood {
		logger.Debug("resolver: skip ref, flood wait exceeds budget",
			zap.String("ref", ref), zap.Duration("wait", wait))
		return model.Entity{}, false
	}

	sleepFor := wait + r.floodWaitPadding + telegramruntime.FloodWaitJitter()
	logger.Debug("resolver: flood wait, sleeping then retrying", zap.String("ref", ref), zap.Duration("sleep", sleepFor))
	if !sleepCtx(ctx, sleepFor) {
		return model.Entity{}, false
	}

	entity, err = r.resolveUsername(ctx, ref)
	if err != nil {
		return model.Entity{}, false
	}
	r.cacheEntity(entity)
	return entity, true
}

// resolveUsername выполняет живой вызов contacts.resolveUsername для ссылки
// "@name"/"t.me/name" и превращает результат в Entity.
func (r *Resolver) resolveUsername(ctx context.Context, ref string) (model.Entity, error) {
	key := usernameKey(ref)
	if key == "" {
		return model.Entity{}, errors.New("resolver: ref is not a resolvable username")
	}

	resolved, err := r.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: key})
	if err != nil {
		return model.Entity{}, err
	}

	switch peer := resolved.Peer.(type) {
	case *tg.PeerChannel:
		for _, c := range resolved.Chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == peer.ChannelID {
				return entityFromChannel(ch), nil
			}
		}
	case *tg.PeerChat:
		for _, c := range resolved.Chats {
			if ch, ok := c.(*tg.Chat); ok && ch.ID == peer.ChatID {
				return model.Entity{ChatID: ch.ID, Title: ch.Title, Type: model.EntityChat}, nil
			}
		}
	case *tg.PeerUser:
		for _, u := range resolved.Users {
			if user, ok := u.(*tg.User); ok && user.ID == peer.UserID {
				return model.Entity{
					ChatID:   user.ID,
					Username: user.Username,
					Title:    strings.TrimSpace(user.FirstName + " " + user.LastName),
					Type:     model.EntityUser,
				}, nil
			}
		}
	}
	return model.Entity{}, fmt.Errorf("resolver: resolved peer not found in accompanying entities for %q", ref)
}

func entityFromChannel(ch *tg.Channel) model.Entity {
	e := model.Entity{
		ChatID:     ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
	}
	if ch.Megagroup || ch.Gigagroup {
		e.Type = model.EntitySupergroup
	} else {
		e.Type = model.EntityChannel
	}
	if count, ok := ch.GetParticipantsCount(); ok {
		e.ParticipantsCount = count
		e.HasParticipantCount = true
	}
	return e
}

// FullChannelParticipants запрашивает полную информацию канала ради
// авторитетного числа участников; нужен гейту min_members фильтра
// discovery, когда сводная сущность его не принесла. Ошибки вызывающая
// сторона терпит — фильтр в этом случае пропускает, а не отклоняет.
func (r *Resolver) FullChannelParticipants(ctx context.Context, e model.Entity) (int, error) {
	full, err := r.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: e.ChatID, AccessHash: e.AccessHash})
	if err != nil {
		return 0, err
	}
	chatFull, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return 0, errors.New("resolver: unexpected full-chat type")
	}
	count, _ := chatFull.GetParticipantsCount()
	return count, nil
}

// EnsureJoin вступает в чат по ссылке ref. Каждый сбой проглатывается (уже
// участник, инвайт истёк и т.п.); сбои наблюдаемы только через последующие
// неразрешённые лукапы.
func (r *Resolver) EnsureJoin(ctx context.Context, ref string) {
	trimmed := strings.TrimSpace(ref)

	if strings.HasPrefix(trimmed, "http") && strings.Contains(trimmed, "t.me/") {
		tail := strings.Trim(strings.SplitN(trimmed, "t.me/", 2)[1], "/")
		if strings.HasPrefix(tail, "+") {
			hash := strings.TrimPrefix(tail, "+")
			_, _ = r.api.MessagesImportChatInvite(ctx, hash)
			return
		}
	}

	entity, ok := r.GetEntitySafe(ctx, ref)
	if !ok {
		return
	}
	if entity.Type != model.EntityChannel && entity.Type != model.EntitySupergroup {
		return
	}
	_, _ = r.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: entity.ChatID, AccessHash: entity.AccessHash})
}

// sleepCtx блокируется на d либо до отмены ctx и сообщает, дожил ли сон до
// конца (false означает, что ретрай стоит бросить).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
