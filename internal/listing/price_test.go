package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	cases := map[string]int64{
		"Rp 1.200.000 / Bulan": 1200000,
		"Rp 750.000":           750000,
		"1,5 juta":             1500000,
		"Rp 2 jt / bulan":      2000000,
		"800rb":                800000,
		"900 ribu":             900000,
		"750k":                 750000,
		"hubungi pemilik":      0,
		"":                     0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParsePrice(in), in)
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "Rp 1.200.000 / Bulan", FormatPrice(1200000, "Bulan"))
	assert.Equal(t, "Rp 950.000 / Minggu", FormatPrice(950000, "Minggu"))
	assert.Equal(t, "Rp 500", FormatPrice(500, ""))
	assert.Equal(t, "Rp 0 / Bulan", FormatPrice(0, "Bulan"))
	assert.Equal(t, int64(1200000), ParsePrice(FormatPrice(1200000, "Bulan")))
}
