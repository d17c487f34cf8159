package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBarcode(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    ParsedBarcode
		wantErr bool
	}{
		{
			name: "standard fiction barcode",
			raw:  "FIC-0231-02",
			want: ParsedBarcode{Section: "FIC", BookSeq: 231, CopySeq: 2},
		},
		{
			name: "reference section",
			raw:  "REF-1024-01",
			want: ParsedBarcode{Section: "REF", BookSeq: 1024, CopySeq: 1},
		},
		{
			name: "lower case scanner output",
			raw:  "fic-0231-02",
			want: ParsedBarcode{Section: "FIC", BookSeq: 231, CopySeq: 2},
		},
		{
			name: "surrounding whitespace",
			raw:  "  SCI-0007-11 ",
			want: ParsedBarcode{Section: "SCI", BookSeq: 7, CopySeq: 11},
		},
		{
			name:    "missing copy segment",
			raw:     "FIC-0231",
			wantErr: true,
		},
		{
			name:    "numeric section",
			raw:     "123-0231-02",
			wantErr: true,
		},
		{
			name:    "copy sequence zero",
			raw:     "FIC-0231-00",
			wantErr: true,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBarcode(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonical(t *testing.T) {
	p := ParsedBarcode{Section: "FIC", BookSeq: 231, CopySeq: 2}
	assert.Equal(t, "FIC-0231-02", p.Canonical())

	roundTrip, err := ParseBarcode(p.Canonical())
	assert.NoError(t, err)
	assert.Equal(t, p, roundTrip)
}
