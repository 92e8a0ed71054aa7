package crawl

// Frontier реализует приоритетную очередь best-first обхода краулера.
// Меньший приоритет выходит первым; равные приоритеты разрешаются порядком
// вставки через стабильный ключ кучи (priority, insertion seq), так что
// при равенстве payload никогда не сравнивается.

import "container/heap"

// Entry — один ожидающий кандидат краулера.
type Entry struct {
	Ref         string
	Depth       int
	SeedFlag    bool
	HitRate     float64
	RecentBonus float64
	Priority    float64
	seq         int
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Frontier — стабильная min-куча Entry, упорядоченная по Priority, затем по
// порядку вставки.
type Frontier struct {
	h       entryHeap
	nextSeq int
}

// NewFrontier возвращает пустой фронтир.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Push вставляет e, проставляя ему следующий порядковый номер вставки.
func (f *Frontier) Push(e *Entry) {
	e.seq = f.nextSeq
	f.nextSeq++
	heap.Push(&f.h, e)
}

// Pop извлекает и возвращает запись с наименьшим приоритетом, либо ok=false
// для пустого фронтира.
func (f *Frontier) Pop() (*Entry, bool) {
	if f.h.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&f.h).(*Entry), true
}

// Len сообщает число ожидающих записей.
func (f *Frontier) Len() int { return f.h.Len() }
