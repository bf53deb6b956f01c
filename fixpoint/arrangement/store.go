package arrangement

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

type slotKey struct {
	binding int
	key     string
}

type slot struct {
	once sync.Once
	arr  *Arrangement
}

// Stats reports store activity.
type Stats struct {
	Builds int64
	Hits   int64
	Live   int
}

// BuildFunc observes an arrangement handed out by the store.
type BuildFunc func(binding int, keyCols []int, arr *Arrangement)

// Store caches arrangements of committed binding contents. Slot creation is
// serialized; each slot is built at most once and then read without locking.
// Arrangements of a binding are dropped when its contents change.
type Store struct {
	mu      sync.Mutex
	slots   map[slotKey]*slot
	builds  atomic.Int64
	hits    atomic.Int64
	onBuild BuildFunc
	onReuse BuildFunc
}

// NewStore creates an empty store. onBuild runs after each build and
// onReuse on each request served from an existing slot; either may be nil.
func NewStore(onBuild, onReuse BuildFunc) *Store {
	return &Store{
		slots:   make(map[slotKey]*slot),
		onBuild: onBuild,
		onReuse: onReuse,
	}
}

// GetOrBuild returns the arrangement of binding keyed by keyCols, building it
// from source on first use.
func (s *Store) GetOrBuild(binding int, keyCols []int, source func() *collection.Collection) *Arrangement {
	k := slotKey{binding: binding, key: fmt.Sprint(keyCols)}

	s.mu.Lock()
	sl, ok := s.slots[k]
	if !ok {
		sl = &slot{}
		s.slots[k] = sl
	}
	s.mu.Unlock()

	built := false
	sl.once.Do(func() {
		sl.arr = Build(source(), keyCols)
		built = true
	})
	if built {
		s.builds.Add(1)
		if s.onBuild != nil {
			s.onBuild(binding, keyCols, sl.arr)
		}
	} else {
		s.hits.Add(1)
		if s.onReuse != nil {
			s.onReuse(binding, keyCols, sl.arr)
		}
	}
	return sl.arr
}

// Invalidate drops every arrangement of binding.
func (s *Store) Invalidate(binding int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.slots {
		if k.binding == binding {
			delete(s.slots, k)
		}
	}
}

// Stats returns build and hit counters and the number of live slots.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	live := len(s.slots)
	s.mu.Unlock()
	return Stats{
		Builds: s.builds.Load(),
		Hits:   s.hits.Load(),
		Live:   live,
	}
}
