// Package model содержит общие типы значений конвейера сбора: ссылки на чаты,
// разрешённые сущности, сырые сообщения, результаты скоринга и форму строки,
// сохраняемой в хранилище. Единый листовой пакет позволяет скорингу, резолверу,
// краулеру, бэкфиллу и live-потоку разделять один словарь без циклов импорта.
package model

import (
	"strconv"
	"strings"
	"time"
)

// EntityType — канонический вид чата, в который разрешается ссылка.
type EntityType string

const (
	EntityChannel    EntityType = "channel"
	EntitySupergroup EntityType = "supergroup"
	EntityChat       EntityType = "chat"
	EntityUser       EntityType = "user"
)

// CanonicalizeEntityType сводит сырое имя типа gotd (например "Channel",
// "ChannelForbidden", "Chat", "ChatForbidden") к корзинам channel, supergroup
// и user, понятным фильтру allow_types краулера; "chat" попадает в
// supergroup, а нераспознанное имя возвращается в нижнем регистре.
func CanonicalizeEntityType(raw string) EntityType {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "channel"):
		return EntityChannel
	case strings.Contains(lower, "megagroup"), strings.Contains(lower, "supergroup"):
		return EntitySupergroup
	case strings.Contains(lower, "chat"):
		return EntitySupergroup
	case strings.Contains(lower, "user"):
		return EntityUser
	default:
		return EntityType(lower)
	}
}

// Entity — разрешённый чат: числовой идентификатор плюс метаданные, нужные
// остальному конвейеру (username для ссылок и блок-листа, заголовок для
// сохранения, число участников для фильтров discovery).
type Entity struct {
	ChatID              int64
	AccessHash          int64
	Username            string
	Title               string
	Type                EntityType
	ParticipantsCount   int
	HasParticipantCount bool
}

// NormalizedUsername возвращает username в нижнем регистре без ведущего "@",
// либо "" при его отсутствии. Служит ключом кэша и ключом сравнения с
// блок-листом по всему конвейеру.
func (e Entity) NormalizedUsername() string {
	return NormalizeUsername(e.Username)
}

// NormalizeUsername приводит username к нижнему регистру и отрезает ведущий
// "@". Безопасен для уже нормализованного ввода.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// Message — минимальная форма сообщения транспорта, нужная скорингу и
// конвейеру. Text заполняет вызывающая сторона через ExtractText, передавая
// ему единственного кандидата — поле Message сообщения gotd.
type Message struct {
	ChatID    int64
	MessageID int
	Date      time.Time
	Text      string
}

// ScoreResult — итог прогона скоринга по телу сообщения.
type ScoreResult struct {
	Score   int
	Matched []string
}

// PersistedHit — полностью собранная строка для upsert в хранилище. Поля
// зеркалят таблицу messages из internal/store.
type PersistedHit struct {
	ChatID          int64
	ChatTitle       string
	ChatUsername    string
	DateUTC         time.Time
	MessageID       int
	Text            string
	Lang            string
	MatchedKeywords []string
	Score           int
	URL             string
	TextJA          string
}

// ExtractText возвращает первый непустой из переданных кандидатов текста,
// по порядку. Варианты сообщений транспорта несут тело под разными
// атрибутами (сырое/форматированное поле против обычного), поэтому тело —
// упорядоченный аксессор, а не иерархия типов.
func ExtractText(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// BuildMessageURL собирает ссылку по конвенции https://t.me/<username>/<id>;
// возвращает "" когда username неизвестен.
func BuildMessageURL(username string, messageID int) string {
	u := NormalizeUsername(username)
	if u == "" {
		return ""
	}
	return "https://t.me/" + u + "/" + strconv.Itoa(messageID)
}
