package kb

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strixsec/strix/pkg/types"
)

type recordingObserver struct {
	appends []string
	updates [][2]string
	urls    []string
}

func (r *recordingObserver) OnAppend(locA, locB string, value interface{}) {
	r.appends = append(r.appends, locA+"/"+locB)
}

func (r *recordingObserver) OnUpdate(old, updated types.Finding) {
	r.updates = append(r.updates, [2]string{old.UniqID(), updated.UniqID()})
}

func (r *recordingObserver) OnAddURL(u *url.URL) {
	r.urls = append(r.urls, u.String())
}

func TestObserver_AppendEvents(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	k.AddObserver(obs)

	require.NoError(t, k.Append(ctx, Loc("xss"), "xss", types.NewInfo("p", "t", "http://target/")))
	require.NoError(t, k.RawWrite(ctx, Loc("crawler"), "page_count", 1))

	assert.Equal(t, []string{"xss/xss", "crawler/page_count"}, obs.appends)
}

func TestObserver_UpdateEvents(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	k.AddObserver(obs)

	old := types.NewInfo("p", "before", "http://target/")
	require.NoError(t, k.Append(ctx, Loc("a"), "b", old))

	updated := types.NewInfo("p", "after", "http://target/")
	require.NoError(t, k.Update(ctx, old, updated))

	require.Len(t, obs.updates, 1)
	assert.Equal(t, old.UniqID(), obs.updates[0][0])
	assert.Equal(t, updated.UniqID(), obs.updates[0][1])
}

func TestObserver_GroupMergeFiresUpdate(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	k.AddObserver(obs)

	info := func() *types.Info { return types.NewInfo("csp", "Missing CSP", "http://target/") }

	_, _, err := k.AppendUniqGroup(ctx, Loc("csp"), "csp", info(), URLGrouper{})
	require.NoError(t, err)
	_, _, err = k.AppendUniqGroup(ctx, Loc("csp"), "csp", info(), URLGrouper{})
	require.NoError(t, err)

	// First call stores a set, second merges into it.
	assert.Len(t, obs.appends, 1)
	assert.Len(t, obs.updates, 1)
}

func TestObserver_URLEvents(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	k.AddObserver(obs)

	u := mustParseURL(t, "http://target/login")
	_, err := k.AddURL(ctx, u)
	require.NoError(t, err)

	// The event fires again even for a URL the set already knows.
	_, err = k.AddURL(ctx, u)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://target/login", "http://target/login"}, obs.urls)
}

func TestObserver_Remove(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	id := k.AddObserver(obs)

	require.NoError(t, k.Append(ctx, Loc("a"), "b", types.NewInfo("p", "t", "http://target/")))
	k.RemoveObserver(id)
	require.NoError(t, k.Append(ctx, Loc("a"), "b", types.NewInfo("p", "t2", "http://target/")))

	assert.Len(t, obs.appends, 1)
}

func TestObserver_ClearedByCleanup(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	k.AddObserver(obs)

	require.NoError(t, k.Cleanup(ctx))
	require.NoError(t, k.Append(ctx, Loc("a"), "b", types.NewInfo("p", "t", "http://target/")))

	assert.Empty(t, obs.appends)
}

func TestObserver_RegistrationOrder(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	var order []int
	a := &callbackObserver{onAppend: func() { order = append(order, 1) }}
	b := &callbackObserver{onAppend: func() { order = append(order, 2) }}
	k.AddObserver(a)
	k.AddObserver(b)

	require.NoError(t, k.Append(ctx, Loc("a"), "b", types.NewInfo("p", "t", "http://target/")))
	assert.Equal(t, []int{1, 2}, order)
}

type callbackObserver struct {
	onAppend func()
}

func (c *callbackObserver) OnAppend(string, string, interface{}) {
	if c.onAppend != nil {
		c.onAppend()
	}
}
func (c *callbackObserver) OnUpdate(types.Finding, types.Finding) {}
func (c *callbackObserver) OnAddURL(*url.URL)                     {}
