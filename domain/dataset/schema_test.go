package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRating(t *testing.T) {
	sc := ScaleSpec{Name: "comfort", Column: "Comfort", Categories: []string{"Very uncomfortable", "Neutral", "Very comfortable"}}

	cases := []struct {
		cell    string
		want    int
		ok      bool
		wantErr bool
	}{
		{"Neutral", 1, true, false},
		{"very comfortable", 2, true, false},
		{"1", 0, true, false},
		{"3.0", 2, true, false},
		{"", 0, false, false},
		{"NA", 0, false, false},
		{"4", 0, false, true},
		{"meh", 0, false, true},
	}
	for _, tc := range cases {
		got, ok, err := sc.ParseRating(tc.cell)
		if tc.wantErr {
			assert.Error(t, err, tc.cell)
			continue
		}
		require.NoError(t, err, tc.cell)
		assert.Equal(t, tc.ok, ok, tc.cell)
		if ok {
			assert.Equal(t, tc.want, got, tc.cell)
		}
	}
}

func TestSchemaValidateAndEmpty(t *testing.T) {
	s := Schema{
		SubjectColumn:  "id",
		PositionColumn: "position",
		SexColumn:      "sex",
		SampleColumn:   "sample",
		Positions:      []string{"wrist", "chest"},
		Sexes:          []string{"Female", "Male", "Other"},
		Samples:        []string{"A", "B", "C"},
		Scales:         []ScaleSpec{{Name: "comfort", Column: "c", Categories: []string{"1", "2", "3"}}},
	}
	require.NoError(t, s.Validate())

	ds := s.Empty()
	assert.Equal(t, "wrist", ds.Position.Reference())
	assert.Equal(t, []string{"comfort"}, ds.Parameters())

	s.Scales = append(s.Scales, s.Scales[0])
	assert.Error(t, s.Validate())

	s.Scales = s.Scales[:1]
	s.SexColumn = ""
	assert.Error(t, s.Validate())
}
