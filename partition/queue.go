package partition

import "math/rand/v2"

// Queue is a FIFO ring buffer of partitions.
// It is not safe for concurrent use.
type Queue struct {
	buf  []Partition
	head int
	n    int
}

// NewQueue returns an empty queue with room for capacity partitions.
func NewQueue(capacity int) *Queue {
	return &Queue{buf: make([]Partition, max(capacity, 1))}
}

// Len returns the number of queued partitions.
func (q *Queue) Len() int { return q.n }

// PushBack appends p to the tail, growing the buffer if it is full.
func (q *Queue) PushBack(p Partition) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = p
	q.n++
}

// PushFront prepends p to the head, growing the buffer if it is full.
func (q *Queue) PushFront(p Partition) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = p
	q.n++
}

// PopFront removes and returns the head. ok is false when the queue is empty.
func (q *Queue) PopFront() (p Partition, ok bool) {
	if q.n == 0 {
		return Partition{}, false
	}
	p = q.buf[q.head]
	q.buf[q.head] = Partition{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return p, true
}

// Items returns a copy of the queued partitions, head first.
func (q *Queue) Items() []Partition {
	out := make([]Partition, q.n)
	for i := range q.n {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

func (q *Queue) grow() {
	buf := make([]Partition, len(q.buf)*2)
	copy(buf, q.Items())
	q.buf = buf
	q.head = 0
}

// Shuffle returns a new queue holding parts in random order. Instances that
// start at the same moment then race for different partitions first.
// parts is not modified. A nil rng uses the global source.
func Shuffle(parts []Partition, rng *rand.Rand) *Queue {
	order := make([]Partition, len(parts))
	copy(order, parts)

	swap := func(i, j int) { order[i], order[j] = order[j], order[i] }
	if rng != nil {
		rng.Shuffle(len(order), swap)
	} else {
		rand.Shuffle(len(order), swap)
	}

	q := NewQueue(len(order))
	for _, p := range order {
		q.PushBack(p)
	}
	return q
}
