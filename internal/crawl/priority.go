package crawl

import "teleosint/internal/config"

// priority вычисляет ключ упорядочивания фронтира; меньшее значение выходит
// раньше.
//
//	pri = w_hit * hit_rate + w_depth * depth + w_seed * [is_seed] + w_recent * recent_bonus
func priority(cfg config.CrawlConfig, hitRate float64, depth int, seed bool, recentBonus float64) float64 {
	seedTerm := 0.0
	if seed {
		seedTerm = 1.0
	}
	return *cfg.WHitRate*hitRate +
		*cfg.WDepth*float64(depth) +
		*cfg.WSeedBonus*seedTerm +
		*cfg.WRecentBonus*recentBonus
}
