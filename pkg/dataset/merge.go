// Copyright 2024 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package dataset

import (
	"container/heap"
	"fmt"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
)

// MergeIterator performs a heap-based k-way merge over per-source
// generators, producing one globally sorted, deduplicated stream of
// WorkerInput values numbered 0..N-1.
//
// Precondition: each generator yields entries already sorted by relative
// path. Because ties on equal paths are broken by source priority inside the
// heap, the first occurrence of a path is always the lowest-priority one;
// every later occurrence is discarded. A source caught yielding out of
// order fails the merge: an unsorted source would silently break the
// priority-wins guarantee.
type MergeIterator struct {
	h     *entryHeap
	gens  []Generator
	last  []string // last path seen per source, for the monotonicity guard
	seen  *internal.StringSet
	index int
	cur   *executor.WorkerInput
	err   error
}

type heapItem struct {
	entry SortableEntry
	src   int
}

type entryHeap []heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return entryLess(h[i].entry, h[j].entry)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge builds the merged stream across all per-source generators.
func Merge(gens ...Generator) *MergeIterator {
	m := &MergeIterator{
		h:    &entryHeap{},
		gens: gens,
		last: make([]string, len(gens)),
		seen: internal.NewStringSet(),
	}
	for i, g := range gens {
		if g.Next() {
			heap.Push(m.h, heapItem{entry: g.Entry(), src: i})
			m.last[i] = g.Entry().RelativePath()
		} else if err := g.Err(); err != nil {
			m.err = err
			return m
		}
	}
	return m
}

// Next advances to the next retained entry. The merge stage is strictly
// single-threaded: only the executor's coordinator pulls from it.
func (m *MergeIterator) Next() bool {
	if m.err != nil {
		return false
	}
	for m.h.Len() > 0 {
		item := heap.Pop(m.h).(heapItem)

		if !m.advance(item.src) {
			return false
		}

		path := item.entry.RelativePath()
		if m.seen.Contains(path) {
			// a lower-priority duplicate: first occurrence already won
			continue
		}
		m.seen.Add(path)
		m.cur = &executor.WorkerInput{
			Index: m.index,
			Entry: item.entry,
			Size:  item.entry.EntrySize(),
		}
		m.index++
		return true
	}
	return false
}

// advance pulls the next entry from source src into the heap. Returns false
// only on a generator error.
func (m *MergeIterator) advance(src int) bool {
	g := m.gens[src]
	if !g.Next() {
		if err := g.Err(); err != nil {
			m.err = err
			return false
		}
		return true
	}
	e := g.Entry()
	if e.RelativePath() < m.last[src] {
		m.err = &internal.UserError{Msg: fmt.Sprintf(
			"source %d is not sorted: %q yielded after %q", src, e.RelativePath(), m.last[src])}
		return false
	}
	m.last[src] = e.RelativePath()
	heap.Push(m.h, heapItem{entry: e, src: src})
	return true
}

func (m *MergeIterator) Err() error                 { return m.err }
func (m *MergeIterator) Get() *executor.WorkerInput { return m.cur }

// Count returns how many entries have been emitted so far; after the stream
// is drained this is the size of the merged index space.
func (m *MergeIterator) Count() int { return m.index }
