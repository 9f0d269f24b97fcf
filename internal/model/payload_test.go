package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_PreservesKeyOrder(t *testing.T) {
	p, err := ParsePayload(strings.NewReader(`{"query": "rust ownership", "lang": "en", "safe": 1, "engines": ["google", "bing"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"query", "lang", "safe", "engines"}, p.Keys())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"query":"rust ownership","lang":"en","safe":1,"engines":["google","bing"]}`, string(out))
}

func TestParsePayload_Query(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"string query", `{"query":"golang"}`, "golang", true},
		{"escaped query", `{"query":"a \"quoted\" term"}`, `a "quoted" term`, true},
		{"numeric query", `{"query":42}`, "", false},
		{"missing query", `{"q":"golang"}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(strings.NewReader(tt.body))
			require.NoError(t, err)

			got, ok := p.Query()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload_DuplicateKeys(t *testing.T) {
	p, err := ParsePayload(strings.NewReader(`{"query":"first","page":1,"query":"second"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"query", "page"}, p.Keys())
	q, ok := p.Query()
	require.True(t, ok)
	assert.Equal(t, "second", q)
}

func TestParsePayload_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"truncated object", `{"query":`},
		{"trailing data", `{"query":"x"} {}`},
		{"array", `["query"]`},
		{"string", `"query"`},
		{"null", `null`},
		{"not json", `query=rust`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestPayload_EmptyObject(t *testing.T) {
	p, err := ParsePayload(strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestPayload_NestedValuesCompacted(t *testing.T) {
	p, err := ParsePayload(strings.NewReader("{\n  \"query\": \"x\",\n  \"filters\": { \"time\" : \"day\" ,\n \"region\": null }\n}"))
	require.NoError(t, err)

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"x","filters":{"time":"day","region":null}}`, string(out))
	assert.Equal(t, `{"query":"x","filters":{"time":"day","region":null}}`, string(out))
}

func TestPayload_Set(t *testing.T) {
	var p Payload
	p.Set("query", json.RawMessage(`"a"`))
	p.Set("page", json.RawMessage(`2`))
	p.Set("query", json.RawMessage(`"b"`))

	assert.Equal(t, 2, p.Len())
	raw, ok := p.Get("query")
	require.True(t, ok)
	assert.JSONEq(t, `"b"`, string(raw))

	_, ok = p.Get("missing")
	assert.False(t, ok)
}
