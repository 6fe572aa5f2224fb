package scheduler

import (
	"container/heap"
	"context"
	"time"
)

const maxSleepCap = 60 * time.Second

type opKind int

const (
	opReplace opKind = iota
	opUpdate
	opReset
)

type op struct {
	kind  opKind
	event Event
}

type query struct {
	key   string
	reply chan Event
}

// Scheduler fires keyed events. It runs a background goroutine that sleeps
// until the next event's trigger time, then calls onTrigger with the key.
// onTrigger runs on the scheduler goroutine and must not block.
type Scheduler struct {
	opChan     chan op
	removeChan chan string
	queryChan  chan query
	ctx        context.Context
}

// New creates and starts a Scheduler. The goroutine exits when ctx is
// cancelled.
func New(ctx context.Context, onTrigger func(string)) *Scheduler {
	s := &Scheduler{
		opChan:     make(chan op, 64),
		removeChan: make(chan string, 64),
		queryChan:  make(chan query),
		ctx:        ctx,
	}
	go s.run(onTrigger)
	return s
}

// Add schedules event, replacing any pending event with the same key.
func (s *Scheduler) Add(event Event) {
	s.send(op{kind: opReplace, event: event})
}

// Update changes the recurrence of the pending event with the same key but
// keeps its trigger time, pulled forward if the new recurrence would have
// fired earlier. Without a pending event it behaves like Add.
func (s *Scheduler) Update(event Event) {
	s.send(op{kind: opUpdate, event: event})
}

// Reset moves the trigger time of the pending event with key to at. It is a
// no-op when nothing is pending for key.
func (s *Scheduler) Reset(key string, at time.Time) {
	s.send(op{kind: opReset, event: Event{Key: key, TriggerAt: at}})
}

// Remove cancels the pending event with key.
func (s *Scheduler) Remove(key string) {
	select {
	case s.removeChan <- key:
	case <-s.ctx.Done():
	}
}

// Next returns the pending event with key.
func (s *Scheduler) Next(key string) (Event, bool) {
	q := query{key: key, reply: make(chan Event, 1)}
	select {
	case s.queryChan <- q:
	case <-s.ctx.Done():
		return Event{}, false
	}
	select {
	case e := <-q.reply:
		return e, e.Key != ""
	case <-s.ctx.Done():
		return Event{}, false
	}
}

func (s *Scheduler) send(o op) {
	select {
	case s.opChan <- o:
	case <-s.ctx.Done():
	}
}

// run is the scheduler goroutine. It owns the heap exclusively.
func (s *Scheduler) run(onTrigger func(string)) {
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			// No events, block on the channels only
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case o := <-s.opChan:
			apply(h, o)
			timerCh = resetTimer()

		case key := <-s.removeChan:
			heapRemoveByKey(h, key)
			timerCh = resetTimer()

		case q := <-s.queryChan:
			if i := heapFind(h, q.key); i >= 0 {
				q.reply <- (*h)[i]
			} else {
				q.reply <- Event{}
			}

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				// re-add before the callback so it can Reset the next run
				if event.Recurring() {
					if next, err := NextSlot(event.Interval, event.CronExpr, now); err == nil {
						event.TriggerAt = next
						heapPush(h, event)
					}
				}
				onTrigger(event.Key)
			}
			timerCh = resetTimer()
		}
	}
}

func apply(h *eventHeap, o op) {
	switch o.kind {
	case opReplace:
		heapRemoveByKey(h, o.event.Key)
		heapPush(h, o.event)
	case opUpdate:
		prev, ok := heapRemoveByKey(h, o.event.Key)
		if !ok {
			heapPush(h, o.event)
			return
		}
		e := o.event
		e.TriggerAt = prev.TriggerAt
		if next, err := NextSlot(e.Interval, e.CronExpr, time.Now()); err == nil && next.Before(e.TriggerAt) {
			e.TriggerAt = next
		}
		heapPush(h, e)
	case opReset:
		prev, ok := heapRemoveByKey(h, o.event.Key)
		if !ok {
			return
		}
		prev.TriggerAt = o.event.TriggerAt
		heapPush(h, prev)
	}
}
