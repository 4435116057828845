package kb

import (
	"context"
	"fmt"
	"sort"

	"github.com/strixsec/strix/pkg/types"
)

// Filter selects the equivalence rule AppendUniq dedups under.
type Filter string

const (
	// FilterURL considers two findings duplicates when their URLs match.
	FilterURL Filter = "URL"
	// FilterVAR considers two findings duplicates when URL, token name
	// and data-container key set all match.
	FilterVAR Filter = "VAR"
)

// AppendUniq stores info at the address unless an equivalent finding is
// already there. It returns true when the info was added. The scan and the
// conditional write are atomic with respect to other composite operations.
func (k *KnowledgeBase) AppendUniq(ctx context.Context, locA Location, locB string, info *types.Info, filter Filter) (bool, error) {
	if info == nil {
		return false, ErrNotAFinding
	}
	if filter != FilterURL && filter != FilterVAR {
		return false, fmt.Errorf("%w: %q", ErrUnknownFilter, filter)
	}

	if err := k.Setup(ctx); err != nil {
		return false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	name := locA.LocationName()
	existing, err := k.getValues(ctx, name, locB, true)
	if err != nil {
		return false, err
	}

	for _, v := range existing {
		if matches(filter, v.(types.Finding), info) {
			return false, nil
		}
	}

	if err := k.appendFinding(ctx, name, locB, info); err != nil {
		return false, err
	}
	return true, nil
}

func matches(filter Filter, stored types.Finding, candidate *types.Info) bool {
	if filter == FilterURL {
		return stored.URL() == candidate.URL()
	}

	if stored.TokenName() != candidate.TokenName() || stored.URL() != candidate.URL() {
		return false
	}

	storedKeys, candidateKeys := stored.DataKeys(), candidate.DataKeys()
	if storedKeys == nil && candidateKeys == nil {
		return true
	}
	// A finding with a data container never matches one without.
	if storedKeys == nil || candidateKeys == nil {
		return false
	}
	return sameKeySet(storedKeys, candidateKeys)
}

func sameKeySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for n := range as {
		if as[n] != bs[n] {
			return false
		}
	}
	return true
}

// Grouper decides which InfoSet a new Info belongs to. Key derives the
// duplicate-class key; NewSet builds the set a first member seeds.
type Grouper interface {
	Key(info *types.Info) string
	NewSet(key string, seed *types.Info) *types.InfoSet
}

// URLGrouper aggregates infos that share a URL.
type URLGrouper struct{}

func (URLGrouper) Key(info *types.Info) string { return info.URL() }

func (URLGrouper) NewSet(key string, seed *types.Info) *types.InfoSet {
	return types.NewInfoSet(key, seed)
}

// TokenGrouper aggregates infos that share a URL and token name.
type TokenGrouper struct{}

func (TokenGrouper) Key(info *types.Info) string {
	return info.URL() + "\x1f" + info.TokenName()
}

func (TokenGrouper) NewSet(key string, seed *types.Info) *types.InfoSet {
	return types.NewInfoSet(key, seed)
}

// AppendUniqGroup merges info into the InfoSet at the address that matches
// its group key, or stores a new set seeded with it. It returns the stored
// set and whether it was newly created. At most one set per group key can
// exist at an address because the scan and write are atomic with respect to
// other composite operations.
func (k *KnowledgeBase) AppendUniqGroup(ctx context.Context, locA Location, locB string, info *types.Info, grouper Grouper) (*types.InfoSet, bool, error) {
	if info == nil {
		return nil, false, ErrNotAFinding
	}
	if grouper == nil {
		return nil, false, fmt.Errorf("append_uniq_group requires a grouper")
	}

	if err := k.Setup(ctx); err != nil {
		return nil, false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	name := locA.LocationName()
	key := grouper.Key(info)

	existing, err := k.getValues(ctx, name, locB, true)
	if err != nil {
		return nil, false, err
	}

	for _, v := range existing {
		set, ok := v.(*types.InfoSet)
		if !ok || !set.Match(key) {
			continue
		}

		// Snapshot before mutating so the update is keyed by the prior
		// identity and observers see the true before/after pair.
		old := set.Clone()
		set.Add(info)
		if err := k.updateFinding(ctx, old, set); err != nil {
			return nil, false, err
		}
		return set, false, nil
	}

	set := grouper.NewSet(key, info)
	if err := k.appendFinding(ctx, name, locB, set); err != nil {
		return nil, false, err
	}
	return set, true, nil
}
