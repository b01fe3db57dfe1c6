package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSixID_StringParse(t *testing.T) {
	id := SixID{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}
	s := id.String()
	assert.Len(t, s, 10)

	parsed, err := ParseSixID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	lower, err := ParseSixID(toLowerASCII(s))
	require.NoError(t, err)
	assert.Equal(t, id, lower)
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func TestParseSixID_Invalid(t *testing.T) {
	_, err := ParseSixID("SHORT")
	assert.Error(t, err)

	_, err = ParseSixID("UUUUUUUUUU") // U is excluded from the alphabet
	assert.Error(t, err)

	id, err := ParseSixID("")
	assert.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestNewSixID_Hook(t *testing.T) {
	fixed := SixID{1, 2, 3, 4, 5, 6}
	NewSixIDHook = func() (SixID, bool) { return fixed, true }
	defer func() { NewSixIDHook = nil }()

	assert.Equal(t, fixed, NewSixID())
}

func TestSixID_JSON(t *testing.T) {
	id := NewSixID()
	data, err := json.Marshal(struct {
		ID SixID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))
}

func TestSixID_BSON(t *testing.T) {
	type doc struct {
		ID   SixID   `bson:"_id,omitempty"`
		Refs []SixID `bson:"refs"`
	}
	in := doc{ID: NewSixID(), Refs: []SixID{NewSixID(), NewSixID()}}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	idVal := bson.Raw(raw).Lookup("_id")
	subtype, data := idVal.Binary()
	assert.Equal(t, byte(0x80), subtype)
	assert.Equal(t, in.ID[:], data)

	var out doc
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	empty, err := bson.Marshal(doc{})
	require.NoError(t, err)
	_, lookupErr := bson.Raw(empty).LookupErr("_id")
	assert.Error(t, lookupErr, "zero id should be omitted")
}
