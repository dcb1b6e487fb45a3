// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import "sync"

func Matches(update Update, filters Filters) bool {
	return filters.Status == 0 || (update.Status&filters.Status) != 0
}

type subscription struct {
	ch      chan Update
	filters Filters
}

type subscriptions struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

func (s *subscriptions) add(filters Filters) chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if filters.Status == 0 {
		filters.Status = StatusOK
	}

	ch := make(chan Update, 10)
	s.subs = append(s.subs, subscription{
		ch:      ch,
		filters: filters,
	})
	return ch
}

// send delivers update to every matching subscriber. A subscriber whose
// buffer is full misses the update.
func (s *subscriptions) send(update Update) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	dropped := 0
	for _, sub := range s.subs {
		if !Matches(update, sub.filters) {
			continue
		}
		u := update
		u.Files = append([]string(nil), update.Files...)
		select {
		case sub.ch <- u:
		default:
			dropped++
		}
	}
	return dropped
}

func (s *subscriptions) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.closed = true
}
