package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericValue(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{550.0, 550, true},
		{550, 550, true},
		{int64(12), 12, true},
		{" 450 ", 450, true},
		{json.Number("1.5"), 1.5, true},
		{"AM5", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, ok := NumericValue(tc.in)
		assert.Equal(t, tc.ok, ok, "%#v", tc.in)
		assert.Equal(t, tc.want, got, "%#v", tc.in)
	}
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "550", NormalizeValue(550.0))
	assert.Equal(t, "550", NormalizeValue("550"))
	assert.Equal(t, "550", NormalizeValue(550))
	assert.Equal(t, "am4", NormalizeValue(" AM4 "))
	assert.Equal(t, "true", NormalizeValue(true))
	assert.Equal(t, "6-pin,8-pin", NormalizeValue([]any{"6-Pin", " 8-pin"}))

	list := []string{"ATX", "ITX"}
	NormalizeValue(list)
	assert.Equal(t, []string{"ATX", "ITX"}, list, "input list must not be modified")
}

func TestValueList(t *testing.T) {
	assert.Nil(t, ValueList(nil))
	assert.Equal(t, []string{"ATX", "Micro-ATX"}, ValueList("ATX, Micro-ATX,"))
	assert.Equal(t, []string{"8-pin", "24-pin"}, ValueList([]any{"8-pin", "24-pin"}))
	assert.Equal(t, []string{"a", "b"}, ValueList([]string{" a", "", "b"}))
	assert.Equal(t, []string{"750"}, ValueList(750))
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, "550", DisplayValue(550.0))
	assert.Equal(t, `"AM5"`, DisplayValue(" AM5"))
	assert.Equal(t, `"6-pin, 8-pin"`, DisplayValue([]any{"6-pin", "8-pin"}))
	assert.Equal(t, "true", DisplayValue(true))
}
