package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Valid(t *testing.T) {
	env, err := Decode([]byte(`{"type":"broadcast","seq":1,"data":{"text":"hi"}}`))
	require.NoError(t, err)

	assert.Equal(t, TypeBroadcast, env.Type)
	assert.Equal(t, json.Number("1"), env.Seq)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Data))
}

func TestDecode_RejectsNonObject(t *testing.T) {
	for _, frame := range []string{
		`[1,2,3]`,
		`"string"`,
		`42`,
		``,
		`not json at all`,
		`{"type":`,
	} {
		_, err := Decode([]byte(frame))
		assert.Error(t, err, frame)
	}
}

func TestDecode_RejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrNoType)
}

func TestDecode_RejectsNonNumericSeq(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ping","seq":"seven"}`))
	assert.ErrorIs(t, err, ErrBadSeq)

	_, err = Decode([]byte(`{"type":"ping","seq":true}`))
	assert.ErrorIs(t, err, ErrBadSeq)
}

func TestDecode_NullSeqIsAbsent(t *testing.T) {
	env, err := Decode([]byte(`{"type":"ping","seq":null}`))
	require.NoError(t, err)
	assert.Empty(t, env.Seq)
}

func TestDecode_ClientStampsIgnored(t *testing.T) {
	// Client-supplied id/from are dropped at decode; the server assigns its
	// own on delivery.
	env, err := Decode([]byte(`{"type":"ping","id":"123","from":"456"}`))
	require.NoError(t, err)
	assert.Empty(t, env.ID)
	assert.Empty(t, env.From)
}

func TestEncode_RoundTrip(t *testing.T) {
	in := &Envelope{
		Type:      TypeBroadcast,
		ID:        "111620291920199681",
		From:      "17",
		Timestamp: 1700000000000,
		Seq:       "4",
		Data:      json.RawMessage(`{"text":"hi","extra":{"deep":true}}`),
	}

	frame, err := in.Encode()
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(frame, &out))
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.From, out.From)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.Equal(t, in.Seq, out.Seq)
	assert.JSONEq(t, string(in.Data), string(out.Data))
}

func TestEncode_OmitsEmptySeq(t *testing.T) {
	frame, err := (&Envelope{Type: TypeLeft, From: FromServer}).Encode()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(frame, &m))
	_, hasSeq := m["seq"]
	assert.False(t, hasSeq)
}

func TestDataPreservedVerbatim(t *testing.T) {
	// Unknown fields inside data survive untouched.
	payload := `{"custom":"field","nested":{"a":[1,2,3]}}`
	env, err := Decode([]byte(`{"type":"broadcast","data":` + payload + `}`))
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.JSONEq(t, payload, string(m["data"]))
}
