package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1500 Marilla St, Dallas, TX 75201", "1500 marilla st dallas tx 75201"},
		{"  1500   MARILLA st.,  Dallas  TX 75201 ", "1500 marilla st dallas tx 75201"},
		{"Apt #4, 12 Main St", "apt 4 12 main st"},
		{"１２ Main Street", "12 main street"}, // full-width digits
		{"12 STRASSE", "12 strasse"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.in))
		})
	}
}

func TestNormalizeAddress_EquivalentForms(t *testing.T) {
	assert.Equal(t,
		NormalizeAddress("1500 Marilla St, Dallas, TX"),
		NormalizeAddress("1500 marilla st dallas tx"),
	)
}
