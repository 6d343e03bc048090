package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

func TestStripThinkRemovesReasoningSegment(t *testing.T) {
	out := stripThink(`<think>the user wants mail search</think>{"capability":"mail.search","confidence":0.9}`)
	assert.Equal(t, `{"capability":"mail.search","confidence":0.9}`, out)
}

func TestStripThinkHandlesMultipleSegments(t *testing.T) {
	out := stripThink(`<think>a</think>visible<think>b</think>`)
	assert.Equal(t, "visible", out)
}

func TestThinkFilterAcrossChunkBoundary(t *testing.T) {
	f := &ThinkFilter{}
	var out string
	out += f.Feed("<thi")
	out += f.Feed("nk>hidden</th")
	out += f.Feed("ink>visible")
	assert.Equal(t, "visible", out)
}

func TestThinkFilterPassesPlainTextUnchanged(t *testing.T) {
	f := &ThinkFilter{}
	assert.Equal(t, "hello world", f.Feed("hello world"))
}

func TestParseInterpretationExtractsObjectFromProse(t *testing.T) {
	interp, err := parseInterpretation(`Sure, here you go: {"capability":"mail.search","parameters":{"q":"project X"},"confidence":0.9,"reasoning":"matches"} thanks`)
	require.NoError(t, err)
	assert.Equal(t, "mail.search", interp.Capability)
	assert.Equal(t, 0.9, interp.Confidence)
	assert.Equal(t, "project X", interp.Parameters["q"])
}

func TestParseInterpretationFailsOnNonJSON(t *testing.T) {
	_, err := parseInterpretation("I cannot help with that.")
	assert.Error(t, err)
}

func TestInterpretClampsConfidenceWhenCapabilityNotAdvertised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"capability\":\"mail.delete_everything\",\"parameters\":{},\"confidence\":0.95,\"reasoning\":\"x\"}","done":true}` + "\n"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithTimeout(time.Second))
	interp := c.Interpret(context.Background(), "find my email", "a mail agent", []core.CapabilityDescriptor{
		{Verb: "mail.search", Description: "search mail"},
	})

	assert.Equal(t, "mail.delete_everything", interp.Capability)
	assert.LessOrEqual(t, interp.Confidence, 0.3)
}

func TestInterpretReturnsUnparseableOnMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"not json at all","done":true}` + "\n"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithTimeout(time.Second))
	interp := c.Interpret(context.Background(), "q", "ctx", nil)

	assert.Equal(t, core.UnparseableCapability, interp.Capability)
	assert.Equal(t, 0.0, interp.Confidence)
}

func TestInterpretReturnsZeroConfidenceOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"response":"{}","done":true}` + "\n"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithTimeout(5*time.Millisecond))
	c.maxRetries = 0
	interp := c.Interpret(context.Background(), "q", "ctx", nil)

	assert.Equal(t, 0.0, interp.Confidence)
}
