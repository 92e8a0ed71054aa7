// Package scoring реализует движок сопоставления ключевых слов: быстрый
// префильтр-альтернацию и точный проход по каждому ключу через поиск
// подстроки. Сопоставление по подстроке (а не по границе слова) намеренное:
// у CJK и смешанных письменностей нет универсальной границы слова.
package scoring

import (
	"regexp"
	"sort"
	"strings"

	"teleosint/internal/config"
	"teleosint/internal/model"
)

var hashtagRe = regexp.MustCompile(`#\S+`)

// Scorer держит объединённый приведённый к нижнему регистру набор ключей и
// его предкомпилированный префильтр-альтернацию. Оба выводятся один раз из
// пяти языковых корзин; сами корзины сохраняются только ради round-trip
// конфигурации и при сопоставлении больше не используются.
type Scorer struct {
	candidates []string       // в нижнем регистре, без дублей, в порядке вставки ja,en,zh,ru,ar
	preFilter  *regexp.Regexp // nil, когда объединённый набор пуст
}

// New собирает Scorer из корзин ключевых слов. Если все корзины пусты,
// скорер остаётся рабочим: Score в этом случае всегда возвращает 0, потому
// что preFilter равен nil и проверка на nil срабатывает раньше любого
// прохода по подстрокам.
func New(kws config.Keywords) *Scorer {
	flat := kws.Flatten()

	seen := make(map[string]struct{}, len(flat))
	unique := make([]string, 0, len(flat))
	for _, w := range flat {
		folded := strings.ToLower(strings.TrimSpace(w))
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		unique = append(unique, folded)
	}

	s := &Scorer{candidates: unique}

	if len(unique) == 0 {
		return s
	}

	byLen := append([]string(nil), unique...)
	sort.Slice(byLen, func(i, j int) bool { return len(byLen[i]) > len(byLen[j]) })
	parts := make([]string, len(byLen))
	for i, w := range byLen {
		parts[i] = regexp.QuoteMeta(w)
	}
	s.preFilter = regexp.MustCompile("(?i)" + strings.Join(parts, "|"))

	return s
}

// Score отрезает хэштеги, приводит регистр, коротко замыкается на негативных
// словах и префильтре, затем собирает различные ключи, присутствующие как
// подстроки.
func (s *Scorer) Score(text string, negatives []string) model.ScoreResult {
	body := strings.ToLower(hashtagRe.ReplaceAllString(text, " "))
	if strings.TrimSpace(body) == "" {
		return model.ScoreResult{}
	}

	for _, neg := range negatives {
		negFolded := strings.ToLower(strings.TrimSpace(neg))
		if negFolded == "" {
			continue
		}
		if strings.Contains(body, negFolded) {
			return model.ScoreResult{}
		}
	}

	if s.preFilter == nil || !s.preFilter.MatchString(body) {
		return model.ScoreResult{}
	}

	matched := make([]string, 0, len(s.candidates))
	for _, w := range s.candidates {
		if strings.Contains(body, w) {
			matched = append(matched, w)
		}
	}
	sort.Strings(matched)

	return model.ScoreResult{Score: len(matched), Matched: matched}
}
