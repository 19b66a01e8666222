package realtime

import "sync"

// Roster holds, per live event, the ordered distinct user ids watching it.
// Membership checks and inserts happen under one lock, so concurrent joins
// can never admit the same user twice.
type Roster struct {
	mu     sync.Mutex
	events map[string]*viewers
}

type viewers struct {
	order []string
	set   map[string]struct{}
}

func NewRoster() *Roster {
	return &Roster{events: make(map[string]*viewers)}
}

// Add registers userID as watching eventID and returns the viewer count and
// whether the user was newly added.
func (r *Roster) Add(eventID, userID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.events[eventID]
	if !ok {
		v = &viewers{set: make(map[string]struct{})}
		r.events[eventID] = v
	}
	if _, dup := v.set[userID]; dup {
		return len(v.order), false
	}
	v.set[userID] = struct{}{}
	v.order = append(v.order, userID)
	return len(v.order), true
}

// Remove drops userID from eventID. tracked is false when the event has no
// roster at all, in which case nothing should be announced.
func (r *Roster) Remove(eventID, userID string) (count int, tracked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.events[eventID]
	if !ok {
		return 0, false
	}
	if _, present := v.set[userID]; present {
		delete(v.set, userID)
		for i, id := range v.order {
			if id == userID {
				v.order = append(v.order[:i], v.order[i+1:]...)
				break
			}
		}
	}
	return len(v.order), true
}

func (r *Roster) Count(eventID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.events[eventID]; ok {
		return len(v.order)
	}
	return 0
}

// Viewers returns a copy of eventID's viewers in join order.
func (r *Roster) Viewers(eventID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.events[eventID]
	if !ok {
		return nil
	}
	return append([]string(nil), v.order...)
}

func (r *Roster) Tracked(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.events[eventID]
	return ok
}

// Clear forgets eventID entirely.
func (r *Roster) Clear(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
}
