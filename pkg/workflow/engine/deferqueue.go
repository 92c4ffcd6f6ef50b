package engine

import (
	"container/heap"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

// deferredLine is a line whose enrichment:{mpn} lock was contended,
// parked for retry after the rest of the batch round.
type deferredLine struct {
	line  model.BOMLineItem
	round int
}

// deferQueue orders parked lines deterministically: earliest-deferred
// round first, then line number, then MPN as the tie-break. Stable
// ordering matters because replaying a workflow must retry deferred lines
// in the same order the original run did.
type deferQueue struct {
	items deferHeap
}

func newDeferQueue() *deferQueue {
	q := &deferQueue{}
	heap.Init(&q.items)
	return q
}

func (q *deferQueue) Push(line model.BOMLineItem, round int) {
	heap.Push(&q.items, &deferredLine{line: line, round: round})
}

// PopRound removes and returns every line deferred before the current
// round, up to max. Lines deferred during the round being drained stay
// queued for the next pass.
func (q *deferQueue) PopRound(currentRound, max int) []model.BOMLineItem {
	var out []model.BOMLineItem
	for q.items.Len() > 0 && len(out) < max && q.items[0].round < currentRound {
		item := heap.Pop(&q.items).(*deferredLine)
		out = append(out, item.line)
	}
	return out
}

func (q *deferQueue) Len() int { return q.items.Len() }

type deferHeap []*deferredLine

func (h deferHeap) Len() int { return len(h) }

func (h deferHeap) Less(i, j int) bool {
	if h[i].round != h[j].round {
		return h[i].round < h[j].round
	}
	if h[i].line.LineNumber != h[j].line.LineNumber {
		return h[i].line.LineNumber < h[j].line.LineNumber
	}
	return h[i].line.MPN < h[j].line.MPN
}

func (h deferHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deferHeap) Push(x any) { *h = append(*h, x.(*deferredLine)) }

func (h *deferHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
