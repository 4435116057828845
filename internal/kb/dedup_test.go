package kb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strixsec/strix/pkg/types"
)

func TestAppendUniq_VARFilter(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	info := func() *types.Info {
		return types.NewInfo("xss", "Reflected XSS", "http://target/search").
			WithToken("q").
			WithData([]string{"q", "page"})
	}

	added, err := k.AppendUniq(ctx, Loc("xss"), "xss", info(), FilterVAR)
	require.NoError(t, err)
	assert.True(t, added)

	// An equivalent finding is dropped.
	added, err = k.AppendUniq(ctx, Loc("xss"), "xss", info(), FilterVAR)
	require.NoError(t, err)
	assert.False(t, added)

	// A different token is a different finding.
	other := types.NewInfo("xss", "Reflected XSS", "http://target/search").
		WithToken("page").
		WithData([]string{"q", "page"})
	added, err = k.AppendUniq(ctx, Loc("xss"), "xss", other, FilterVAR)
	require.NoError(t, err)
	assert.True(t, added)

	findings, err := k.Get(ctx, Loc("xss"), "xss")
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestAppendUniq_VARFilter_DataContainers(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		stored    *types.Info
		candidate *types.Info
		wantAdded bool
	}{
		{
			name:      "both without containers match",
			stored:    types.NewInfo("p", "t", "http://target/").WithToken("q"),
			candidate: types.NewInfo("p", "t2", "http://target/").WithToken("q"),
			wantAdded: false,
		},
		{
			name:      "container presence discriminates",
			stored:    types.NewInfo("p", "t", "http://target/").WithToken("q"),
			candidate: types.NewInfo("p", "t", "http://target/").WithToken("q").WithData(nil),
			wantAdded: true,
		},
		{
			name:      "key order is irrelevant",
			stored:    types.NewInfo("p", "t", "http://target/").WithToken("q").WithData([]string{"a", "b"}),
			candidate: types.NewInfo("p", "t", "http://target/").WithToken("q").WithData([]string{"b", "a"}),
			wantAdded: false,
		},
		{
			name:      "different key sets discriminate",
			stored:    types.NewInfo("p", "t", "http://target/").WithToken("q").WithData([]string{"a"}),
			candidate: types.NewInfo("p", "t", "http://target/").WithToken("q").WithData([]string{"a", "b"}),
			wantAdded: true,
		},
	}

	for n, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locB := string(rune('a' + n))
			added, err := k.AppendUniq(ctx, Loc("var"), locB, tt.stored, FilterVAR)
			require.NoError(t, err)
			require.True(t, added)

			added, err = k.AppendUniq(ctx, Loc("var"), locB, tt.candidate, FilterVAR)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, added)
		})
	}
}

func TestAppendUniq_URLFilter(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	added, err := k.AppendUniq(ctx, Loc("dav"), "dav",
		types.NewInfo("dav", "PROPFIND enabled", "http://target/dav"), FilterURL)
	require.NoError(t, err)
	assert.True(t, added)

	// Same URL collapses even when everything else differs.
	added, err = k.AppendUniq(ctx, Loc("dav"), "dav",
		types.NewInfo("dav", "MKCOL enabled", "http://target/dav").WithToken("x"), FilterURL)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = k.AppendUniq(ctx, Loc("dav"), "dav",
		types.NewInfo("dav", "PROPFIND enabled", "http://target/other"), FilterURL)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestAppendUniq_Validation(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	_, err := k.AppendUniq(ctx, Loc("a"), "b", nil, FilterURL)
	assert.ErrorIs(t, err, ErrNotAFinding)

	_, err = k.AppendUniq(ctx, Loc("a"), "b",
		types.NewInfo("p", "t", "http://target/"), Filter("BOGUS"))
	assert.ErrorIs(t, err, ErrUnknownFilter)
}

func TestAppendUniq_Concurrent(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg    sync.WaitGroup
		errs  = make([]error, workers)
		added = make([]bool, workers)
	)
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			info := types.NewInfo("xss", "Reflected XSS", "http://target/search").WithToken("q")
			added[n], errs[n] = k.AppendUniq(ctx, Loc("xss"), "xss", info, FilterVAR)
		}(n)
	}
	wg.Wait()

	total := 0
	for n := 0; n < workers; n++ {
		require.NoError(t, errs[n])
		if added[n] {
			total++
		}
	}
	assert.Equal(t, 1, total)

	findings, err := k.Get(ctx, Loc("xss"), "xss")
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestAppendUniqGroup(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	first := types.NewInfo("csp", "Missing CSP header", "http://target/a")
	set, created, err := k.AppendUniqGroup(ctx, Loc("csp"), "csp", first, URLGrouper{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, set.Len())

	// A second info with the same group key merges into the stored set.
	second := types.NewInfo("csp", "Missing CSP header", "http://target/a")
	set, created, err = k.AppendUniqGroup(ctx, Loc("csp"), "csp", second, URLGrouper{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, set.Len())

	// A different key seeds its own set.
	third := types.NewInfo("csp", "Missing CSP header", "http://target/b")
	set, created, err = k.AppendUniqGroup(ctx, Loc("csp"), "csp", third, URLGrouper{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, set.Len())

	findings, err := k.Get(ctx, Loc("csp"), "csp")
	require.NoError(t, err)
	require.Len(t, findings, 2)

	stored := findings[0].(*types.InfoSet)
	assert.Equal(t, "http://target/a", stored.GroupKey)
	assert.Equal(t, 2, stored.Len())
}

func TestAppendUniqGroup_TokenGrouper(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	a := types.NewInfo("xss", "Reflected XSS", "http://target/search").WithToken("q")
	_, created, err := k.AppendUniqGroup(ctx, Loc("xss"), "xss", a, TokenGrouper{})
	require.NoError(t, err)
	assert.True(t, created)

	// Same URL, different token: separate set.
	b := types.NewInfo("xss", "Reflected XSS", "http://target/search").WithToken("page")
	_, created, err = k.AppendUniqGroup(ctx, Loc("xss"), "xss", b, TokenGrouper{})
	require.NoError(t, err)
	assert.True(t, created)

	c := types.NewInfo("xss", "Reflected XSS", "http://target/search").WithToken("q")
	set, created, err := k.AppendUniqGroup(ctx, Loc("xss"), "xss", c, TokenGrouper{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, set.Len())
}

func TestAppendUniqGroup_MergeSurvivesReload(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	// The first set is written, serialized and read back before the second
	// member arrives, so matching must work on the deserialized form.
	_, _, err := k.AppendUniqGroup(ctx, Loc("csp"), "csp",
		types.NewInfo("csp", "Missing CSP header", "http://target/a"), URLGrouper{})
	require.NoError(t, err)

	findings, err := k.Get(ctx, Loc("csp"), "csp")
	require.NoError(t, err)
	require.Len(t, findings, 1)

	set, _, err := k.AppendUniqGroup(ctx, Loc("csp"), "csp",
		types.NewInfo("csp", "Missing CSP header", "http://target/a"), URLGrouper{})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestAppendUniqGroup_Concurrent(t *testing.T) {
	k := newTestKB(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			info := types.NewInfo("csp", "Missing CSP header", "http://target/a")
			_, _, errs[n] = k.AppendUniqGroup(ctx, Loc("csp"), "csp", info, URLGrouper{})
		}(n)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// One set holding every member, never multiple sets for one key.
	findings, err := k.Get(ctx, Loc("csp"), "csp")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, workers, findings[0].(*types.InfoSet).Len())
}
