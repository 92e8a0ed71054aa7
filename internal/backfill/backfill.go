// Package backfill вытягивает из чата до настроенного числа свежих
// сообщений, от новых к старым, прогоняя каждое через общий конвейер сбора
// с учётом сохранённого watermark чата.
package backfill

import (
	"context"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"teleosint/internal/config"
	"teleosint/internal/infra/logger"
	"teleosint/internal/ingest"
	"teleosint/internal/model"
	"teleosint/internal/resolver"
	telegramruntime "teleosint/internal/telegram/runtime"
)

// Mode выбирает, смотрит ли прогон всю историю или только сообщения новее
// watermark чата.
type Mode int

const (
	// ModeAll игнорирует watermark и идёт до настроенного лимита.
	ModeAll Mode = iota
	// ModeNewOnly останавливается, дойдя до последнего виденного id чата.
	ModeNewOnly
)

const pageSize = 100

// Backfill забирает и обрабатывает свежую историю чата.
type Backfill struct {
	api      *tg.Client
	resolver *resolver.Resolver
	block    *config.Config
	pipeline *ingest.Pipeline
	limit    int
}

// New собирает Backfill над транспортом, резолвером, блок-листом и общим
// конвейером сбора. limit ограничивает число сообщений на чат
// (collect.backfill_limit из конфига).
func New(api *tg.Client, res *resolver.Resolver, block *config.Config, pipeline *ingest.Pipeline, limit int) *Backfill {
	return &Backfill{api: api, resolver: res, block: block, pipeline: pipeline, limit: limit}
}

// summary — сводка по чату, логируемая в debug-режиме.
type summary struct {
	chatRef       string
	total         int
	hits          int
	skippedScored int
	lowScore      int
}

// Run бэкфиллит каждую ссылку из refs, по одному чату за раз, в заданном
// режиме.
func (b *Backfill) Run(ctx context.Context, refs []string, mode Mode) {
	for _, ref := range refs {
		b.runOne(ctx, ref, mode)
	}
}

func (b *Backfill) runOne(ctx context.Context, ref string, mode Mode) {
	entity, ok := b.resolver.GetEntitySafe(ctx, ref)
	if !ok {
		return
	}
	if entity.Username != "" && b.block.IsBlocked(entity.Username) {
		return
	}

	minID := 0
	if mode == ModeNewOnly {
		last, err := b.pipeline.Store.LastSeen(ctx, entity.ChatID)
		if err == nil && last > 0 {
			minID = last
		}
	}

	sum := summary{chatRef: ref}
	peer := peerForEntity(entity)
	offsetID := 0
	remaining := b.limit
	if remaining <= 0 {
		remaining = pageSize
	}

	for remaining > 0 {
		limit := pageSize
		if remaining < limit {
			limit = remaining
		}

		msgs, err := b.fetchPage(ctx, peer, offsetID, limit)
		if err != nil || len(msgs) == 0 {
			break
		}

		stop := false
		for _, mc := range msgs {
			msg, ok := mc.(*tg.Message)
			if !ok {
				continue
			}
			offsetID = msg.ID
			sum.total++

			if minID > 0 && msg.ID <= minID {
				stop = true
				break
			}

			remaining--

			text := model.ExtractText(msg.Message)
			result, err := b.pipeline.Handle(ctx, model.Message{
				ChatID:    entity.ChatID,
				MessageID: msg.ID,
				Date:      time.Unix(int64(msg.Date), 0).UTC(),
				Text:      text,
			}, entity.Title, entity.Username)
			// Сбой записи пропускает только это сообщение; обход продолжается.
			if err != nil {
				continue
			}
			switch {
			case result.Persisted:
				sum.hits++
			case result.Skipped == ingest.SkipAlreadyScored:
				sum.skippedScored++
			case result.Skipped == ingest.SkipLowScore:
				sum.lowScore++
			}

			if remaining <= 0 {
				stop = true
				break
			}
		}

		if stop || len(msgs) < limit {
			break
		}
		telegramruntime.WaitRandomTimeMs(ctx, 200, 600)
	}

	if logger.IsDebugEnabled() {
		logger.Debug("backfill: chat summary",
			zap.String("ref", sum.chatRef),
			zap.Int("total", sum.total),
			zap.Int("hits", sum.hits),
			zap.Int("skipped_scored", sum.skippedScored),
			zap.Int("low_score", sum.lowScore),
		)
	}
}

func (b *Backfill) fetchPage(ctx context.Context, peer tg.InputPeerClass, offsetID, limit int) ([]tg.MessageClass, error) {
	resp, err := b.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	switch m := resp.(type) {
	case *tg.MessagesChannelMessages:
		return m.Messages, nil
	case *tg.MessagesMessages:
		return m.Messages, nil
	case *tg.MessagesMessagesSlice:
		return m.Messages, nil
	default:
		return nil, nil
	}
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
