package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StaticInventory is an in-memory Inventory. TTLs are ignored.
type StaticInventory struct {
	mu       sync.Mutex
	routers  map[string]Router
	watchers []chan []Router
}

func NewStaticInventory(routers ...Router) *StaticInventory {
	s := &StaticInventory{routers: make(map[string]Router, len(routers))}
	for _, r := range routers {
		s.routers[r.Name] = r
	}
	return s
}

func (s *StaticInventory) Register(_ context.Context, router Router, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers[router.Name] = router
	s.notifyLocked()
	return nil
}

func (s *StaticInventory) Deregister(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routers, name)
	s.notifyLocked()
	return nil
}

func (s *StaticInventory) Lookup(_ context.Context, name string) (Router, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[name]
	if !ok {
		return Router{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r, nil
}

// List returns the routers sorted by name.
func (s *StaticInventory) List(_ context.Context) ([]Router, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(), nil
}

// Watch emits the list after every Register or Deregister. A slow reader
// only sees the latest list.
func (s *StaticInventory) Watch(ctx context.Context) <-chan []Router {
	ch := make(chan []Router, 1)

	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (s *StaticInventory) listLocked() []Router {
	out := make([]Router, 0, len(s.routers))
	for _, r := range s.routers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *StaticInventory) notifyLocked() {
	list := s.listLocked()
	for _, ch := range s.watchers {
		// Replace a stale, unread list with the current one.
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
