// Package telegramruntime содержит небольшие рантайм-хелперы, общие для
// циклов discovery, краулинга и бэкфилла: контекстное ожидание с джиттером
// для темпа исходящих запросов (join_sleep_ms и бэкофф пагинации диалогов),
// чтобы не долбить транспорт.
package telegramruntime

import (
	"context"
	"math/rand/v2"
	"time"

	"teleosint/internal/infra/logger"
)

const (
	defaultWaitMinMs = 1111
	defaultWaitMaxMs = 3333

	// floodWaitJitterMax ограничивает случайную добавку поверх паузы,
	// предписанной FloodWait, чтобы ретраи не входили в лимит в один и тот
	// же момент.
	floodWaitJitterMax = 3 * time.Second
)

// FloodWaitJitter возвращает случайную длительность в [0, floodWaitJitterMax)
// для добавления к сну, предписанному FloodWait.
func FloodWaitJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(floodWaitJitterMax)))
}

// WaitRandomTimeMs блокируется на случайный интервал в [minMs, maxMs)
// (при minMs==maxMs — ровно на minMs), выходя раньше при отмене ctx. minMs==maxMs==0 выбирает умолчания пакета;
// minMs<=0 или maxMs<minMs логируется и трактуется как no-op.
func WaitRandomTimeMs(ctx context.Context, minMs, maxMs int) {
	switch {
	case minMs == 0 && maxMs == 0:
		minMs = defaultWaitMinMs
		maxMs = defaultWaitMaxMs
	case minMs <= 0:
		logger.Error("WaitRandomTimeMs: wait time <= 0")
		return
	case maxMs < minMs:
		logger.Error("WaitRandomTimeMs: max < min")
		return
	}

	delta := maxMs
	if maxMs > minMs {
		delta = rand.IntN(maxMs-minMs) + minMs
	}
	delay := time.Duration(delta) * time.Millisecond

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
	case <-timer.C:
	}
}

// WaitRandomTime — WaitRandomTimeMs с окном умолчаний пакета.
func WaitRandomTime(ctx context.Context) {
	WaitRandomTimeMs(ctx, 0, 0)
}
