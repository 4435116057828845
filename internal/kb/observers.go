package kb

import (
	"net/url"
	"sort"
	"sync"

	"github.com/strixsec/strix/pkg/types"
)

// Observer receives every store event; it is not filtered by address and
// must do its own filtering. Dispatch is synchronous on the writer's
// goroutine, inside whatever lock scope the triggering operation holds, so
// slow observers directly add latency to writers.
//
// Observers are held by strong reference: deregister with RemoveObserver or
// the registry grows for the lifetime of the session.
type Observer interface {
	OnAppend(locationA, locationB string, value interface{})
	OnUpdate(old, updated types.Finding)
	OnAddURL(u *url.URL)
}

type observerRegistry struct {
	mu        sync.Mutex
	nextID    int
	observers map[int]Observer
}

func (r *observerRegistry) add(obs Observer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observers == nil {
		r.observers = make(map[int]Observer)
	}
	r.nextID++
	r.observers[r.nextID] = obs
	return r.nextID
}

func (r *observerRegistry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

func (r *observerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = nil
}

// snapshot returns the registered observers in registration order, so
// concurrent (de)registration cannot corrupt a notification pass.
func (r *observerRegistry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]Observer, len(ids))
	for n, id := range ids {
		snapshot[n] = r.observers[id]
	}
	return snapshot
}

// AddObserver registers an observer and returns the handle RemoveObserver
// takes.
func (k *KnowledgeBase) AddObserver(obs Observer) int {
	return k.observers.add(obs)
}

func (k *KnowledgeBase) RemoveObserver(id int) {
	k.observers.remove(id)
}

func (k *KnowledgeBase) notifyAppend(locA, locB string, value interface{}) {
	for _, obs := range k.observers.snapshot() {
		obs.OnAppend(locA, locB, value)
	}
}

func (k *KnowledgeBase) notifyUpdate(old, updated types.Finding) {
	for _, obs := range k.observers.snapshot() {
		obs.OnUpdate(old, updated)
	}
}

func (k *KnowledgeBase) notifyAddURL(u *url.URL) {
	for _, obs := range k.observers.snapshot() {
		obs.OnAddURL(u)
	}
}
