package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDHookFunc defines the signature for the NewSixID test hook.
// It returns a SixID and a boolean indicating whether to override the default generation.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook is a package-level variable that tests can set to override NewSixID behavior.
var NewSixIDHook SixIDHookFunc

// sixIDSubtype is the custom BSON binary subtype SixIDs are stored under.
const sixIDSubtype byte = 0x80

// SixID is a 6-byte ID stored as BSON BinData with custom subtype 0x80.
// Listings, users, reviews and bookings are all keyed by it.
type SixID [6]byte

// NewSixID creates a new 6-byte SixID using random data
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}

	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		return SixID{}
	}
	return id
}

// IsZero reports whether the id was never assigned.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

// ParseSixID parses a SixID from its Crockford Base32 string representation.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}

	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")

	// 6 bytes = 48 bits = 10 base32 characters
	if len(s) != 10 {
		return SixID{}, errors.New("invalid SixID: string length must be 10")
	}

	var bits uint64
	var offset uint
	var id SixID
	byteIndex := 0

	for i := 0; i < 10; i++ {
		val, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return SixID{}, errors.New("invalid character in SixID")
		}

		bits |= uint64(val) << offset
		offset += 5

		for offset >= 8 && byteIndex < 6 {
			id[byteIndex] = byte(bits & 0xFF)
			byteIndex++
			bits >>= 8
			offset -= 8
		}
	}

	if byteIndex != 6 {
		return SixID{}, errors.New("invalid SixID: couldn't decode 6 bytes")
	}
	return id, nil
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeMap = func() map[byte]byte {
	m := make(map[byte]byte, 48)
	for i := range crockfordAlphabet {
		m[crockfordAlphabet[i]] = byte(i)
	}
	lower := strings.ToLower(crockfordAlphabet)
	for i := 10; i < len(lower); i++ {
		m[lower[i]] = byte(i)
	}
	// commonly confused characters
	m['O'], m['o'] = m['0'], m['0']
	m['I'], m['i'] = m['1'], m['1']
	m['L'], m['l'] = m['1'], m['1']
	return m
}()

// String returns the Crockford Base32 (uppercase) representation of the SixID.
func (u SixID) String() string {
	result := make([]byte, 0, 10)
	var bits, offset uint

	for i := 0; i < 6; i++ {
		bits |= uint(u[i]) << offset
		offset += 8

		for offset >= 5 {
			result = append(result, crockfordAlphabet[bits&0x1F])
			bits >>= 5
			offset -= 5
		}
	}

	if offset > 0 {
		result = append(result, crockfordAlphabet[bits&0x1F])
	}
	return string(result)
}

// MarshalJSON marshals the SixID as a JSON string in Crockford Base32 format.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON unmarshals a SixID from a JSON string in Crockford Base32 format.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalBSONValue stores the SixID as binary with subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.Binary, bsoncore.AppendBinary(nil, sixIDSubtype, u[:]), nil
}

// UnmarshalBSONValue reads a SixID written by MarshalBSONValue. Null decodes to the zero id.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*u = SixID{}
		return nil
	}
	if t != bsontype.Binary {
		return errors.New("invalid BSON type for SixID: expected binary")
	}
	subtype, bin, _, ok := bsoncore.ReadBinary(data)
	if !ok {
		return errors.New("invalid BSON binary data for SixID")
	}
	if subtype != sixIDSubtype || len(bin) != 6 {
		return errors.New("invalid BSON binary data for SixID: incorrect subtype or length")
	}
	copy(u[:], bin)
	return nil
}

// ParseSixIDs parses a list of ids, failing on the first bad one.
func ParseSixIDs(ss []string) ([]SixID, error) {
	ids := make([]SixID, 0, len(ss))
	for _, s := range ss {
		id, err := ParseSixID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
