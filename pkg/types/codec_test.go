package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_InfoRoundTrip(t *testing.T) {
	info := NewInfo("xss", "Reflected XSS", "http://target/search").
		WithToken("q").
		WithData([]string{"q", "page"}).
		WithDescription("payload reflected in response body")

	blob, err := Encode(info)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)

	restored, ok := decoded.(*Info)
	require.True(t, ok)
	assert.Equal(t, KindInfo, restored.Kind())
	assert.Equal(t, info.UniqID(), restored.UniqID())
	assert.Equal(t, info.Title, restored.Title)
	assert.Equal(t, info.DataKeys(), restored.DataKeys())
}

func TestCodec_VulnKindSurvives(t *testing.T) {
	vuln, err := NewVuln("sqli", "SQL injection", "http://target/login", SeverityHigh)
	require.NoError(t, err)

	blob, err := Encode(vuln)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)

	restored := decoded.(*Info)
	assert.Equal(t, KindVuln, restored.Kind())
	assert.Equal(t, SeverityHigh, restored.Severity())
	assert.Equal(t, vuln.UniqID(), restored.UniqID())
}

func TestCodec_InfoSetMemberKindsSurvive(t *testing.T) {
	seed := NewInfo("csp", "Missing CSP header", "http://target/")
	set := NewInfoSet("http://target/", seed)

	vuln, err := NewVuln("csp", "Missing CSP header", "http://target/", SeverityLow)
	require.NoError(t, err)
	set.Add(vuln)

	blob, err := Encode(set)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)

	restored, ok := decoded.(*InfoSet)
	require.True(t, ok)
	require.Equal(t, 2, restored.Len())
	assert.Equal(t, "http://target/", restored.GroupKey)
	assert.Equal(t, KindInfo, restored.Infos[0].Kind())
	assert.Equal(t, KindVuln, restored.Infos[1].Kind())
	assert.Equal(t, SeverityLow, restored.Severity())
	assert.Equal(t, set.UniqID(), restored.UniqID())
}

func TestCodec_ShellDropsLiveHandles(t *testing.T) {
	shell := NewShell("sh-1", "os_commanding", "http://target/ping", "cmd=;%s")
	shell.Rehydrate(nil, nil)
	require.False(t, shell.Live())

	blob, err := Encode(shell)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)

	restored, ok := decoded.(*Shell)
	require.True(t, ok)
	assert.Equal(t, shell.UniqID(), restored.UniqID())
	assert.Equal(t, "os_commanding", restored.Plugin)
	assert.False(t, restored.Live())
}

func TestCodec_RawValues(t *testing.T) {
	blob, err := EncodeRaw(map[string]interface{}{"pages": float64(42)})
	require.NoError(t, err)

	v, err := DecodeAny(blob)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"pages": float64(42)}, v)

	// Raw blobs never decode through the finding path.
	_, err = Decode(blob)
	assert.Error(t, err)
}

func TestCodec_UnknownKindRejected(t *testing.T) {
	_, err := DecodeAny([]byte(`{"kind":"bogus","payload":{}}`))
	assert.Error(t, err)
}
