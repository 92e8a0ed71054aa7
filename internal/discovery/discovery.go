// Package discovery выполняет настроенные поисковые запросы через глобальный
// поиск Telegram, оставляет каналы, прошедшие настроенные фильтры, и отдаёт
// отсортированное уникальное множество найденных username.
package discovery

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"teleosint/internal/config"
	"teleosint/internal/model"
	"teleosint/internal/resolver"
	telegramruntime "teleosint/internal/telegram/runtime"
)

// perQueryTimeout ограничивает настенное время каждого поискового запроса.
const perQueryTimeout = 15 * time.Second

// Discovery выполняет настроенные поисковые запросы и фильтрует результаты.
type Discovery struct {
	api      *tg.Client
	resolver *resolver.Resolver
	cfg      config.Discovery
	block    *config.Config
}

// New собирает Discovery над api/resolver; cfg даёт запросы и фильтры,
// block — предикат блок-листа.
func New(api *tg.Client, res *resolver.Resolver, cfg config.Discovery, block *config.Config) *Discovery {
	return &Discovery{api: api, resolver: res, cfg: cfg, block: block}
}

// Run выполняет каждый настроенный запрос и возвращает отсортированное
// уникальное множество строк "@username", прошедших фильтры.
func (d *Discovery) Run(ctx context.Context) []string {
	found := make(map[string]struct{})
	patterns := d.cfg.Filters.CompileUsernameBlockPatterns()

	for _, q := range d.cfg.Queries {
		usernames := d.runQuery(ctx, q, patterns)
		for _, u := range usernames {
			found["@"+u] = struct{}{}
		}
	}

	out := make([]string, 0, len(found))
	for u := range found {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (d *Discovery) runQuery(ctx context.Context, query string, patterns []*regexp.Regexp) []string {
	queryCtx, cancel := context.WithTimeout(ctx, perQueryTimeout)
	defer cancel()

	resp, err := d.searchWithFloodWaitRetry(queryCtx, query)
	if err != nil {
		return nil
	}

	var out []string
	for _, chatClass := range resp.Chats {
		ch, ok := chatClass.(*tg.Channel)
		if !ok || ch.Username == "" {
			continue
		}
		// Разрешаем через общий резолвер, чтобы результаты поиска шли через
		// тот же кэш диалогов и ту же обработку FloodWait, что и любая
		// другая ссылка.
		entity, ok := d.resolver.GetEntitySafe(queryCtx, "@"+ch.Username)
		if !ok {
			continue
		}
		if !d.passesFilters(queryCtx, entity, patterns) {
			continue
		}
		out = append(out, entity.NormalizedUsername())
	}
	return out
}

// searchWithFloodWaitRetry вызывает contacts.search, ретрая ровно один раз
// после сна на укладывающемся в бюджет FloodWait — так же, как FloodWait
// обрабатывает резолвер.
func (d *Discovery) searchWithFloodWaitRetry(ctx context.Context, query string) (*tg.ContactsFound, error) {
	req := &tg.ContactsSearchRequest{Q: query, Limit: d.cfg.LimitPerQuery}

	resp, err := d.api.ContactsSearch(ctx, req)
	if err == nil {
		return resp, nil
	}

	wait, isFlood := tgerr.AsFloodWait(err)
	maxWait := time.Duration(d.cfg.Crawl.MaxWaitOnFloodS) * time.Second
	if !isFlood || wait > maxWait {
		return nil, err
	}

	padding := time.Duration(d.cfg.Crawl.FloodWaitPaddingS) * time.Second
	timer := time.NewTimer(wait + padding + telegramruntime.FloodWaitJitter())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return d.api.ContactsSearch(ctx, req)
}

// passesFilters применяет к результату поиска гейты
// username/имя/паттерны/min_members.
func (d *Discovery) passesFilters(ctx context.Context, e model.Entity, patterns []*regexp.Regexp) bool {
	if e.Username == "" {
		return false
	}
	if d.block.IsBlocked(e.Username) {
		return false
	}

	if len(d.cfg.Filters.NameMustInclude) > 0 {
		matched := false
		haystack := strings.ToLower(e.Title + " " + e.Username)
		for _, needle := range d.cfg.Filters.NameMustInclude {
			if strings.Contains(haystack, strings.ToLower(needle)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range patterns {
		if re.MatchString(e.Username) {
			return false
		}
	}

	if d.cfg.Filters.MinMembers > 0 {
		count := e.ParticipantsCount
		if !e.HasParticipantCount {
			if n, err := d.resolver.FullChannelParticipants(ctx, e); err == nil {
				count = n
			}
			// Терпимо: упавший запрос полной информации пропускает гейт.
		}
		if count > 0 && count < d.cfg.Filters.MinMembers {
			return false
		}
	}

	return true
}
