package crawl

// Проба качества и извлечение ссылок-кандидатов для краулера.

import (
	"context"
	"regexp"
	"strings"

	"github.com/gotd/td/tg"

	"teleosint/internal/ingest"
	"teleosint/internal/model"
	"teleosint/internal/scoring"
)

var (
	mentionRe = regexp.MustCompile(`@[A-Za-z0-9_]{4,32}`)
	tmeLinkRe = regexp.MustCompile(`https?://t\.me/([A-Za-z0-9_+]{4,64})(?:/\d+)?`)
)

// probeStats накапливает бегущие итоги пробы качества.
type probeStats struct {
	total     int
	scoreHits int
	negHits   int
	langHits  int
	totalLen  int
}

func (s *probeStats) observe(text string, sc *scoring.Scorer, negatives []string, threshold int, targetLangs map[string]struct{}, detector ingest.LangDetector) {
	if text == "" {
		return
	}
	s.total++
	s.totalLen += len([]rune(text))

	result := sc.Score(text, negatives)
	if result.Score >= threshold {
		s.scoreHits++
	}

	lowered := strings.ToLower(text)
	for _, neg := range negatives {
		n := strings.ToLower(strings.TrimSpace(neg))
		if n != "" && strings.Contains(lowered, n) {
			s.negHits++
			break
		}
	}

	if len(targetLangs) > 0 && detector != nil {
		if lang, err := detector.Detect(text); err == nil {
			if _, ok := targetLangs[lang]; ok {
				s.langHits++
			}
		}
	}
}

func (s *probeStats) hitRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.scoreHits) / float64(s.total)
}

func (s *probeStats) negativeRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.negHits) / float64(s.total)
}

func (s *probeStats) avgLen() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.totalLen) / float64(s.total)
}

// fetchRecentMessages забирает до limit свежих сообщений чата через
// messages.getHistory, от новых к старым.
func fetchRecentMessages(ctx context.Context, api *tg.Client, e model.Entity, limit int) ([]string, error) {
	peer := peerForEntity(e)
	resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	var msgs []tg.MessageClass
	switch m := resp.(type) {
	case *tg.MessagesChannelMessages:
		msgs = m.Messages
	case *tg.MessagesMessages:
		msgs = m.Messages
	case *tg.MessagesMessagesSlice:
		msgs = m.Messages
	}

	texts := make([]string, 0, len(msgs))
	for _, mc := range msgs {
		if msg, ok := mc.(*tg.Message); ok {
			text := model.ExtractText(msg.Message)
			if text != "" {
				texts = append(texts, text)
			}
		}
	}
	return texts, nil
}

func peerForEntity(e model.Entity) tg.InputPeerClass {
	switch e.Type {
	case model.EntityChannel, model.EntitySupergroup:
		return &tg.InputPeerChannel{ChannelID: e.ChatID, AccessHash: e.AccessHash}
	case model.EntityChat:
		return &tg.InputPeerChat{ChatID: e.ChatID}
	default:
		return &tg.InputPeerChannel{ChannelID: e.ChatID, AccessHash: e.AccessHash}
	}
}

// extractCandidateRefs вытаскивает из texts @упоминания и t.me-ссылки,
// пропуская тексты с ключами блок-листа, и возвращает дедуплицированный
// набор сырых ссылок. t.me-ссылка канонизируется до имени канала — хвост
// "/<message-id>" отбрасывается до дедупликации, чтобы две ссылки на разные
// сообщения одного канала схлопнулись в одного кандидата.
func extractCandidateRefs(texts []string, blocklistKeywords []string, followMentions, followTMELinks bool) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, text := range texts {
		if containsAny(text, blocklistKeywords) {
			continue
		}
		if followMentions {
			for _, m := range mentionRe.FindAllString(text, -1) {
				if _, ok := seen[m]; !ok {
					seen[m] = struct{}{}
					out = append(out, m)
				}
			}
		}
		if followTMELinks {
			for _, groups := range tmeLinkRe.FindAllStringSubmatch(text, -1) {
				l := "https://t.me/" + groups[1]
				if _, ok := seen[l]; !ok {
					seen[l] = struct{}{}
					out = append(out, l)
				}
			}
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
