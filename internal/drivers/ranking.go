package drivers

import (
	"container/heap"
	"iter"
	"math"

	"github.com/example/order-engine/internal/geo"
	"github.com/example/order-engine/internal/models"
)

type candidate struct {
	driver models.Driver
	dist   float64 // +Inf when the driver never reported a position
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.driver.Rating != b.driver.Rating {
		return a.driver.Rating > b.driver.Rating
	}
	return a.driver.ID < b.driver.ID
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// ListAvailable yields available, non-stale drivers ordered by distance to near
// (ascending) then rating (descending). With near == nil every distance ties and
// the order is by rating. Ranking is lazy: stopping after k drivers costs
// O(n + k log n). Each range over the sequence takes a fresh snapshot.
func (p *Pool) ListAvailable(near *models.Coord) iter.Seq[models.Driver] {
	return func(yield func(models.Driver) bool) {
		h := p.candidates(near)
		heap.Init(&h)
		for h.Len() > 0 {
			c := heap.Pop(&h).(candidate)
			if !yield(c.driver) {
				return
			}
		}
	}
}

func (p *Pool) candidates(near *models.Coord) candidateHeap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.now()
	out := make(candidateHeap, 0, len(p.drivers))
	for _, s := range p.drivers {
		if !p.available(s) || p.stale(s, now) {
			continue
		}
		c := candidate{driver: p.snapshot(s, now)}
		if near != nil {
			if loc := c.driver.LastKnownLocation; loc != nil {
				c.dist = geo.HaversineKm(*near, loc.Coord())
			} else {
				c.dist = math.Inf(1)
			}
		}
		out = append(out, c)
	}
	return out
}

// Take collects at most n drivers from seq. n <= 0 collects everything.
func Take(seq iter.Seq[models.Driver], n int) []models.Driver {
	var out []models.Driver
	for d := range seq {
		out = append(out, d)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
