package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("kim"), `"kim"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-2), "-2"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"true", Bool(true), "true"},
		{"false", Bool(false), "false"},
		{"empty list", List{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"list", List{Int(1), String("T0"), Bool(false)}, `[1,"T0",false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	obj := Object{
		"timeline": String("T1"),
		"alive":    Bool(true),
		"nested": Object{
			"z": Int(1),
			"a": Int(2),
		},
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alive":true,"nested":{"a":2,"z":1},"timeline":"T1"}`, string(out))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(out))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical(String("<Kim & Lee>"))
	require.NoError(t, err)
	assert.Equal(t, `"<Kim & Lee>"`, string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "Zoe\u0301"
	composed := "Zo\u00e9"

	a, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))

	keyed, err := MarshalCanonical(Object{decomposed: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, `{"`+composed+`":1}`, string(keyed))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"line separator", "a\u2028b", "\"a\u2028b\""},
		{"paragraph separator", "a\u2029b", "\"a\u2029b\""},
		{"literal escape text", `a\u2028b`, `"a\\u2028b"`},
		{"backslash then separator", "a\\\u2028b", "\"a\\\\\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(Object{"missing": nil})
	assert.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON([]byte(`{"op":"kill_character","character":"C0","participants":["C0","C1"],"extra_causal":true,"n":3}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("kill_character"), obj["op"])
	assert.Equal(t, List{String("C0"), String("C1")}, obj["participants"])
	assert.Equal(t, Bool(true), obj["extra_causal"])
	assert.Equal(t, Int(3), obj["n"])
}

func TestParseJSONRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"float", `{"x":1.5}`},
		{"exponent", `{"x":1e3}`},
		{"null", `{"x":null}`},
		{"null in list", `[1,null]`},
		{"malformed", `{"x":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestFromJSONable(t *testing.T) {
	type record struct {
		Op   string `json:"op"`
		Name string `json:"name,omitempty"`
	}

	v, err := FromJSONable(record{Op: "create_character"})
	require.NoError(t, err)
	assert.Equal(t, Object{"op": String("create_character")}, v)
}
