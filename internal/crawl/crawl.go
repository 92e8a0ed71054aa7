// Package crawl реализует расширение каналов с приоритетной очередью:
// best-first обход кандидатов из упоминаний и ссылок, ограниченный
// глубиной, числом каналов, временем на канал и глобальным временем, с
// гейтом качества по пробе свежих сообщений.
package crawl

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"teleosint/internal/config"
	"teleosint/internal/ingest"
	"teleosint/internal/model"
	"teleosint/internal/resolver"
	"teleosint/internal/scoring"
	telegramruntime "teleosint/internal/telegram/runtime"
)

const neighborFetchLimit = 200

// Crawl держит состояние одного прогона расширения плюс общую для всех
// прогонов карту кулдаунов процесса.
type Crawl struct {
	api       *tg.Client
	resolver  *resolver.Resolver
	cooldown  *resolver.CooldownMap
	block     *config.Config
	cfg       config.CrawlConfig
	scorer    *scoring.Scorer
	detector  ingest.LangDetector
	negatives []string
	threshold int

	targetLangs map[string]struct{}
}

// New собирает Crawl над транспортом, резолвером и картой кулдаунов.
// targetLangs может быть nil/пустым — тогда языковой сигнал пробы выключен
// (он питает только информационную статистику и никогда не гейт).
func New(api *tg.Client, res *resolver.Resolver, cooldown *resolver.CooldownMap, block *config.Config, cfg config.CrawlConfig, scorer *scoring.Scorer, detector ingest.LangDetector, negatives []string, threshold int, targetLangs []string) *Crawl {
	langs := make(map[string]struct{}, len(targetLangs))
	for _, l := range targetLangs {
		langs[strings.ToLower(l)] = struct{}{}
	}
	return &Crawl{
		api:         api,
		resolver:    res,
		cooldown:    cooldown,
		block:       block,
		cfg:         cfg,
		scorer:      scorer,
		detector:    detector,
		negatives:   negatives,
		threshold:   threshold,
		targetLangs: langs,
	}
}

// Run расширяет seeds в отсортированное множество каналов "@username",
// прошедших все гейты.
func (c *Crawl) Run(ctx context.Context, seeds []string) []string {
	if !c.cfg.Enabled {
		return nil
	}

	deadline := time.Now().Add(time.Duration(c.cfg.GlobalTimeLimitS) * time.Second)

	seedSet := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedSet[normalizeRef(s)] = struct{}{}
	}

	frontier := NewFrontier()
	for _, s := range seeds {
		frontier.Push(&Entry{Ref: s, Depth: 0, SeedFlag: true, HitRate: 0, RecentBonus: 0, Priority: priority(c.cfg, 0, 0, true, 0)})
	}

	visited := make(map[string]struct{})
	found := make(map[string]struct{})
	allowTypes := buildAllowTypes(c.cfg.AllowTypes)

	for {
		// Шаг 1: глобальное настенное время.
		if time.Now().After(deadline) {
			break
		}
		if len(found) >= c.cfg.MaxChannels {
			break
		}

		// Шаг 2: pop и дедупликация по visited.
		entry, ok := frontier.Pop()
		if !ok {
			break
		}
		key := normalizeRef(entry.Ref)
		if key == "" {
			continue
		}
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		// Шаг 3: проверка блок-листа до разрешения.
		if c.block.IsBlocked(key) {
			continue
		}

		// Шаг 4: ensure_join -> get_entity_safe.
		c.resolver.EnsureJoin(ctx, entry.Ref)
		telegramruntime.WaitRandomTimeMs(ctx, c.cfg.JoinSleepMs, c.cfg.JoinSleepMs+200)
		entity, ok := c.resolver.GetEntitySafe(ctx, entry.Ref)
		if !ok {
			continue
		}

		// Шаг 5: блок-лист и кулдаун после разрешения.
		if entity.Username != "" && c.block.IsBlocked(entity.Username) {
			continue
		}
		if c.cooldown.IsBlocked(entity.ChatID) {
			continue
		}

		// Шаг 6: классификация типа.
		if !allowsType(allowTypes, entity.Type) {
			continue
		}

		// Шаг 7: фильтры каналов (имя/паттерны; min_members — из того же
		// набора фильтров discovery, переиспользованного здесь, чтобы
		// краулер и поиск были согласны).
		if !c.passesChannelFilters(ctx, entity) {
			continue
		}

		// Шаг 8: проба качества.
		probeDeadline := time.Now().Add(time.Duration(c.cfg.PerChannelTimeLimitS) * time.Second)
		texts, _ := fetchRecentMessages(ctx, c.api, entity, c.cfg.SampleMessages)

		var stats probeStats
		for _, text := range texts {
			stats.observe(text, c.scorer, c.negatives, c.threshold, c.targetLangs, c.detector)
			if time.Now().After(probeDeadline) {
				break
			}
		}

		// Шаг 9: гейты.
		if !c.passesQualityGates(stats) {
			if entity.ChatID != 0 {
				c.cooldown.MarkLowQuality(entity.ChatID, time.Duration(c.cfg.LowQualityCooldownS)*time.Second)
			}
			continue
		}

		// Шаг 10: эмиссия.
		if entity.Username != "" {
			found["@"+entity.NormalizedUsername()] = struct{}{}
		}

		// Шаг 11: время пробы на канал исчерпано — не расширять.
		if time.Now().After(probeDeadline) {
			continue
		}

		// Шаг 12: извлечение и push соседей.
		if entry.Depth < c.cfg.MaxDepth {
			c.pushNeighbors(ctx, frontier, entity, entry, stats, seedSet)
		}
	}

	out := make([]string, 0, len(found))
	for u := range found {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// buildAllowTypes приводит настроенные записи allow_types к нижнему
// регистру. Сопоставление с типом разрешённой сущности обязано
// канонизировать тип самой сущности в точке сравнения (см. allowsType), а
// не эти настроенные строки.
func buildAllowTypes(types []string) map[model.EntityType]struct{} {
	allow := make(map[model.EntityType]struct{}, len(types))
	for _, t := range types {
		allow[model.EntityType(strings.ToLower(t))] = struct{}{}
	}
	return allow
}

// allowsType сообщает, есть ли в allow каноническая корзина t (например,
// легаси basic-group Chat канонизируется в корзину "supergroup").
func allowsType(allow map[model.EntityType]struct{}, t model.EntityType) bool {
	_, ok := allow[model.CanonicalizeEntityType(string(t))]
	return ok
}

func (c *Crawl) pushNeighbors(ctx context.Context, frontier *Frontier, entity model.Entity, parent *Entry, stats probeStats, seedSet map[string]struct{}) {
	texts, err := fetchRecentMessages(ctx, c.api, entity, neighborFetchLimit)
	if err != nil {
		return
	}
	refs := extractCandidateRefs(texts, c.cfg.BlocklistKeywords, c.cfg.FollowMentions, c.cfg.FollowTMELinks)

	recentBonus := 0.0
	if stats.total > 0 {
		recentBonus = 1.0
	}

	for _, ref := range refs {
		_, isSeed := seedSet[normalizeRef(ref)]
		depth := parent.Depth + 1
		pri := priority(c.cfg, stats.hitRate(), depth, isSeed, recentBonus)
		frontier.Push(&Entry{
			Ref:         ref,
			Depth:       depth,
			SeedFlag:    isSeed,
			HitRate:     stats.hitRate(),
			RecentBonus: recentBonus,
			Priority:    pri,
		})
	}
}

// passesChannelFilters применяет тот же гейт имя/паттерны/min_members, что и
// discovery, чтобы краулер и поиск принимали одни и те же каналы.
func (c *Crawl) passesChannelFilters(ctx context.Context, e model.Entity) bool {
	if e.Username == "" {
		return false
	}

	filters := c.block.Discovery.Filters

	if len(filters.NameMustInclude) > 0 {
		matched := false
		haystack := strings.ToLower(e.Title + " " + e.Username)
		for _, needle := range filters.NameMustInclude {
			if strings.Contains(haystack, strings.ToLower(needle)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range filters.CompileUsernameBlockPatterns() {
		if re.MatchString(e.Username) {
			return false
		}
	}

	if filters.MinMembers > 0 {
		count := e.ParticipantsCount
		if !e.HasParticipantCount {
			if n, err := c.resolver.FullChannelParticipants(ctx, e); err == nil {
				count = n
			}
		}
		if count > 0 && count < filters.MinMembers {
			return false
		}
	}

	return true
}

func (c *Crawl) passesQualityGates(s probeStats) bool {
	if s.total < c.cfg.QMinSamples {
		return false
	}
	if s.hitRate() < c.cfg.QMinHitRate {
		return false
	}
	if s.negativeRate() > c.cfg.QMaxNegativeRate {
		return false
	}
	if s.avgLen() < c.cfg.QMinAvgLen {
		return false
	}
	return true
}

func normalizeRef(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "@") {
		return model.NormalizeUsername(trimmed)
	}
	if strings.HasPrefix(trimmed, "http") && strings.Contains(trimmed, "t.me/") {
		tail := strings.Trim(strings.SplitN(trimmed, "t.me/", 2)[1], "/")
		if tail != "" {
			return strings.ToLower(strings.SplitN(tail, "/", 2)[0])
		}
	}
	return strings.ToLower(trimmed)
}
