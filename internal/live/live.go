// Package live хвостит обновления о новых сообщениях, прогоняя каждое
// входящее сообщение в области видимости через тот же конвейер
// скоринга/перевода/сохранения, что и бэкфилл. Хэндлеры регистрируются на
// диспетчере обновлений один раз; Start и Stop переключают, действуют ли
// они — именно это позволяет супервизору ставить хвост на паузу и
// возобновлять его между циклами обслуживания.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"teleosint/internal/infra/logger"
	"teleosint/internal/ingest"
	"teleosint/internal/model"
)

// Stream подписывается на обновления о новых сообщениях и прогоняет их через
// общий конвейер сбора. Опционально ограничен фиксированным набором id
// чатов; при пустом entities рассматривается каждое новое сообщение.
type Stream struct {
	dispatch *tg.UpdateDispatcher
	pipeline *ingest.Pipeline

	registerOnce sync.Once

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
	scope  map[int64]struct{}
}

// New собирает Stream над dispatch. dispatch принадлежит вызывающей стороне
// (транспортный клиент строится против него один раз, при старте процесса);
// Stream регистрирует свои хэндлеры на нём лениво, при первом Start — у
// диспетчера gotd нет дерегистрации, поэтому Start/Stop вместо этого
// переключают внутренний флаг active, который хэндлеры и проверяют.
func New(dispatch *tg.UpdateDispatcher, pipeline *ingest.Pipeline) *Stream {
	return &Stream{dispatch: dispatch, pipeline: pipeline}
}

// Start активирует хэндлер, ограничивая его entityIDs при непустом списке,
// и блокируется до вызова Stop или отмены ctx. Идемпотентен: повторный
// Start при уже работающем возвращается сразу.
func (s *Stream) Start(ctx context.Context, entityIDs []int64) {
	s.registerOnce.Do(func() {
		s.dispatch.OnNewMessage(s.onNewMessage)
		s.dispatch.OnNewChannelMessage(s.onNewChannelMessage)
	})

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	if len(entityIDs) > 0 {
		scope := make(map[int64]struct{}, len(entityIDs))
		for _, id := range entityIDs {
			scope[id] = struct{}{}
		}
		s.scope = scope
	} else {
		s.scope = nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}

	s.mu.Lock()
	s.active = false
	close(s.doneCh)
	s.mu.Unlock()
}

// Stop сигналит Start вернуться; хэндлер продолжает потреблять обновления
// диспетчера, но перестаёт гонять по ним конвейер сбора. Безопасен, когда
// поток не запущен.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	ch := s.stopCh
	done := s.doneCh
	s.mu.Unlock()

	close(ch)
	<-done
}

func (s *Stream) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Stream) inScope(chatID int64) bool {
	s.mu.Lock()
	scope := s.scope
	s.mu.Unlock()
	if scope == nil {
		return true
	}
	_, ok := scope[chatID]
	return ok
}

func (s *Stream) onNewMessage(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
	return s.handle(ctx, entities, u.Message)
}

func (s *Stream) onNewChannelMessage(ctx context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
	return s.handle(ctx, entities, u.Message)
}

// handle прогоняет общий конвейер дедупликации/скоринга/перевода/записи для
// одного обновления. Любой сбой логируется и проглатывается: падение
// хэндлера никогда не должно рушить подписку.
func (s *Stream) handle(ctx context.Context, entities tg.Entities, mc tg.MessageClass) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("live: handler panic recovered", zap.Any("panic", r))
			err = nil
		}
	}()

	if !s.isActive() {
		return nil
	}

	msg, ok := mc.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}

	peerID := peerID(msg.PeerID)
	if !s.inScope(peerID) {
		return nil
	}

	title, username := chatMeta(entities, msg.PeerID)
	text := model.ExtractText(msg.Message)
	result, err := s.pipeline.Handle(ctx, model.Message{
		ChatID:    peerID,
		MessageID: msg.ID,
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
		Text:      text,
	}, title, username)
	if err != nil {
		logger.Debug("live: pipeline error, message dropped", zap.Int64("chat_id", peerID), zap.Error(err))
		return nil
	}
	if result.Persisted {
		logger.Debug("live: persisted hit", zap.Int64("chat_id", peerID), zap.Int("message_id", msg.ID))
	}
	return nil
}

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

func chatMeta(entities tg.Entities, peer tg.PeerClass) (title, username string) {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		if ch, ok := entities.Channels[p.ChannelID]; ok && ch != nil {
			return ch.Title, ch.Username
		}
	case *tg.PeerChat:
		if chat, ok := entities.Chats[p.ChatID]; ok && chat != nil {
			return chat.Title, ""
		}
	case *tg.PeerUser:
		if user, ok := entities.Users[p.UserID]; ok && user != nil {
			name := user.FirstName
			if user.LastName != "" {
				name = name + " " + user.LastName
			}
			return name, user.Username
		}
	}
	return "", ""
}
