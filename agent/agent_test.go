package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/cache"
	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/llm"
	"github.com/localforge/fabric/monitor"
)

func newTestBase(t *testing.T, llmServerURL string) *Base {
	t.Helper()
	c, err := cache.New(cache.Config{AgentID: "mail", CacheDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	client := llm.NewClient(llm.WithBaseURL(llmServerURL), llm.WithTimeout(time.Second))

	return New(Config{
		AgentID:       "mail",
		DisplayName:   "Mail Agent",
		Description:   "searches and summarizes local mail",
		MinConfidence: 0.7,
		Cache:         c,
		LLM:           client,
		Monitor:       monitor.New(monitor.SLAConfig{ResponseTimeSLAMS: 500, MinSuccessRatePercent: 90}),
	})
}

func TestHandleQueryDirectCacheHit(t *testing.T) {
	base := newTestBase(t, "http://unused")

	var called int
	require.NoError(t, base.RegisterCapability("mail.search", nil, nil, "search mail", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		called++
		return map[string]interface{}{"q": params["q"]}, nil
	}))

	base.Cache.Set("find emails about project X", "mail", []byte(`{"capability":"mail.search","parameters":{"q":"project X"},"confidence":0.9}`), 0.9)

	result := base.HandleQuery(context.Background(), "find emails about project X")
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 1, called)
	assert.Empty(t, result.Error)
}

func TestHandleQueryLLMPathWithFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"capability\":\"mail.unknown\",\"parameters\":{\"q\":\"x\"},\"confidence\":0.55,\"reasoning\":\"r\"}","done":true}` + "\n"))
	}))
	defer server.Close()

	base := newTestBase(t, server.URL)
	base.Fallback = "mail.search"

	var gotVerb string
	require.NoError(t, base.RegisterCapability("mail.search", nil, nil, "search mail", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		gotVerb = "mail.search"
		return map[string]interface{}{"q": params["q"]}, nil
	}))

	result := base.HandleQuery(context.Background(), "find emails")
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "mail.search", gotVerb)
}

func TestHandleQueryLowConfidenceNoFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"capability\":\"mail.unknown\",\"parameters\":{},\"confidence\":0.4,\"reasoning\":\"r\"}","done":true}` + "\n"))
	}))
	defer server.Close()

	base := newTestBase(t, server.URL)

	var called bool
	require.NoError(t, base.RegisterCapability("mail.unknown", nil, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		called = true
		return nil, nil
	}))

	result := base.HandleQuery(context.Background(), "find emails")
	assert.Equal(t, string(core.KindLowConfidence), result.Error)
	assert.False(t, called)
}

func TestHandleQueryEmptyReturnsBadRequest(t *testing.T) {
	base := newTestBase(t, "http://unused")
	result := base.HandleQuery(context.Background(), "")
	assert.Equal(t, string(core.KindBadRequest), result.Error)
}

func TestHandleQueryConfidenceExactlyAtThresholdIsAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"capability\":\"mail.search\",\"parameters\":{},\"confidence\":0.7,\"reasoning\":\"r\"}","done":true}` + "\n"))
	}))
	defer server.Close()

	base := newTestBase(t, server.URL)
	require.NoError(t, base.RegisterCapability("mail.search", nil, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	}))

	result := base.HandleQuery(context.Background(), "search")
	assert.Empty(t, result.Error)
	assert.False(t, result.FallbackUsed)
}

func TestRegisterCapabilityRejectsMalformedVerb(t *testing.T) {
	base := newTestBase(t, "http://unused")
	err := base.RegisterCapability("MailSearch", nil, nil, "x", nil)
	assert.Error(t, err)
}

func TestRegisterCapabilityRejectsDuplicate(t *testing.T) {
	base := newTestBase(t, "http://unused")
	handler := func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) { return nil, nil }
	require.NoError(t, base.RegisterCapability("mail.search", nil, nil, "x", handler))
	err := base.RegisterCapability("mail.search", nil, nil, "x", handler)
	assert.Error(t, err)
}

func TestExecuteCapabilityBypassesCache(t *testing.T) {
	base := newTestBase(t, "http://unused")
	require.NoError(t, base.RegisterCapability("mail.search", nil, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))

	out, err := base.ExecuteCapability(context.Background(), "mail.search", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestExecuteCapabilityRejectsMissingRequiredField(t *testing.T) {
	base := newTestBase(t, "http://unused")
	var called bool
	require.NoError(t, base.RegisterCapability("mail.search", core.Schema{"query": "string"}, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		called = true
		return map[string]interface{}{"ok": true}, nil
	}))

	_, err := base.ExecuteCapability(context.Background(), "mail.search", map[string]interface{}{})
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
	assert.Equal(t, core.KindBadRequest, core.KindOf(err))
}

func TestExecuteCapabilityRejectsWrongFieldType(t *testing.T) {
	base := newTestBase(t, "http://unused")
	var called bool
	require.NoError(t, base.RegisterCapability("mail.search", core.Schema{"query": "string"}, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		called = true
		return map[string]interface{}{"ok": true}, nil
	}))

	_, err := base.ExecuteCapability(context.Background(), "mail.search", map[string]interface{}{"query": 123})
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestExecuteCapabilityAcceptsConformingParams(t *testing.T) {
	base := newTestBase(t, "http://unused")
	require.NoError(t, base.RegisterCapability("mail.search", core.Schema{"query": "string"}, nil, "x", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"query": params["query"]}, nil
	}))

	out, err := base.ExecuteCapability(context.Background(), "mail.search", map[string]interface{}{"query": "project X"})
	require.NoError(t, err)
	assert.Equal(t, "project X", out["query"])
}

func TestCallDependencyOptionalFailureReturnsNilWithoutError(t *testing.T) {
	base := newTestBase(t, "http://unused")
	base.RegisterAgentDependency("calendar", []string{"calendar.read"}, false, 1000)

	result, err := base.CallDependency(context.Background(), "calendar", "calendar.read", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCallDependencyRequiredFailureSurfacesError(t *testing.T) {
	base := newTestBase(t, "http://unused")
	base.RegisterAgentDependency("calendar", []string{"calendar.read"}, true, 1000)

	_, err := base.CallDependency(context.Background(), "calendar", "calendar.read", nil, 0)
	assert.Error(t, err)
}

func TestCacheRelationshipRoundTripThroughBase(t *testing.T) {
	base := newTestBase(t, "http://unused")
	require.NoError(t, base.CacheRelationship("contact", "c1", "email", "a@b.com", map[string]interface{}{"src": "mail"}, 0.8))

	edges, err := base.GetRelationships("contact", "c1", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
}
