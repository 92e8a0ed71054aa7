// Package ingest реализует единый путь скоринга/перевода/сохранения, общий
// для бэкфилла и live-потока. Оба пути идут через Scorer -> Translator ->
// Store, так что бэкфилльное и живое сообщение проходят одну и ту же
// последовательность дедупликации, порога, перевода и записи.
package ingest

import (
	"context"
	"fmt"

	"teleosint/internal/model"
	"teleosint/internal/scoring"
	"teleosint/internal/store"
	"teleosint/internal/translate"
)

// LangDetector определяет язык тела сообщения. При любой ошибке конвейер
// считает язык равным "und".
type LangDetector interface {
	Detect(text string) (string, error)
}

// NoopLangDetector всегда сообщает "und". Используется, когда внешний
// детектор не подключён, оставляя конвейер работоспособным без этой
// зависимости.
type NoopLangDetector struct{}

// Detect реализует LangDetector.
func (NoopLangDetector) Detect(string) (string, error) { return "und", nil }

// Pipeline прогоняет последовательность score -> translate -> persist для
// одного сообщения, сперва применяя дедупликацию и порог скоринга.
type Pipeline struct {
	Scorer         *scoring.Scorer
	Translator     *translate.Translator
	Store          *store.Store
	Detector       LangDetector
	Blocked        func(username string) bool
	Negatives      []string
	ScoreThreshold int
}

// NewPipeline связывает коллабораторов в готовый к работе Pipeline. Nil
// детектор заменяется на NoopLangDetector; nil предикат blocked никогда не
// блокирует.
func NewPipeline(scorer *scoring.Scorer, translator *translate.Translator, st *store.Store, detector LangDetector, blocked func(string) bool, negatives []string, threshold int) *Pipeline {
	if detector == nil {
		detector = NoopLangDetector{}
	}
	return &Pipeline{
		Scorer:         scorer,
		Translator:     translator,
		Store:          st,
		Detector:       detector,
		Blocked:        blocked,
		Negatives:      negatives,
		ScoreThreshold: threshold,
	}
}

// SkipReason объясняет, почему конвейер отказался сохранять сообщение.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipAlreadyScored SkipReason = "already_scored"
	SkipLowScore      SkipReason = "low_score"
	SkipBlocked       SkipReason = "blocked"
)

// Result сообщает, что конвейер сделал с сообщением, для вызывающих сторон
// (в основном бэкфилла), которые логируют сводку по чату.
type Result struct {
	Persisted bool
	Score     int
	Skipped   SkipReason
}

// Handle прогоняет общий конвейер для одного сообщения. chatTitle и
// chatUsername — метаданные чата-владельца на момент обработки; msg.Text —
// уже извлечённое тело сообщения. Блок-лист проверяется после порога
// скоринга и до перевода/записи.
func (p *Pipeline) Handle(ctx context.Context, msg model.Message, chatTitle, chatUsername string) (Result, error) {
	if msg.Text == "" {
		return Result{}, nil
	}

	already, err := p.Store.AlreadyScored(ctx, msg.ChatID, msg.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: already_scored: %w", err)
	}
	if already {
		return Result{Skipped: SkipAlreadyScored}, nil
	}

	scored := p.Scorer.Score(msg.Text, p.Negatives)
	if scored.Score < p.ScoreThreshold {
		return Result{Score: scored.Score, Skipped: SkipLowScore}, nil
	}

	if p.Blocked != nil && p.Blocked(chatUsername) {
		return Result{Score: scored.Score, Skipped: SkipBlocked}, nil
	}

	lang, err := p.Detector.Detect(msg.Text)
	if err != nil || lang == "" {
		lang = "und"
	}

	textJA := p.Translator.Translate(ctx, msg.Text, lang)

	hit := model.PersistedHit{
		ChatID:          msg.ChatID,
		ChatTitle:       chatTitle,
		ChatUsername:    model.NormalizeUsername(chatUsername),
		DateUTC:         msg.Date,
		MessageID:       msg.MessageID,
		Text:            msg.Text,
		Lang:            lang,
		MatchedKeywords: scored.Matched,
		Score:           scored.Score,
		URL:             model.BuildMessageURL(chatUsername, msg.MessageID),
		TextJA:          textJA,
	}
	if err := p.Store.Persist(ctx, hit); err != nil {
		return Result{}, fmt.Errorf("ingest: persist: %w", err)
	}
	return Result{Persisted: true, Score: scored.Score}, nil
}
