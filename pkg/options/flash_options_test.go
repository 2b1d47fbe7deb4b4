package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashOptionsValidateDefaults(t *testing.T) {
	assert.Empty(t, NewFlashOptions().Validate())
}

func TestFlashOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *FlashOptions)
		wantErr int
	}{
		{
			name:    "missing image path",
			mutate:  func(o *FlashOptions) { o.ImagePath = "" },
			wantErr: 1,
		},
		{
			name:    "sector size not a power of two",
			mutate:  func(o *FlashOptions) { o.SectorSize = 0x1001 },
			wantErr: 2,
		},
		{
			name:    "chip size not sector aligned",
			mutate:  func(o *FlashOptions) { o.ChipSize = 0x400001 },
			wantErr: 1,
		},
		{
			name:    "table offset beyond chip",
			mutate:  func(o *FlashOptions) { o.TableOffset = 0x400000 },
			wantErr: 1,
		},
		{
			name: "zero sector size reports instead of panicking",
			mutate: func(o *FlashOptions) {
				o.SectorSize = 0
			},
			wantErr: 1,
		},
		{
			name: "zero geometry",
			mutate: func(o *FlashOptions) {
				o.SectorSize = 0
				o.ChipSize = 0
			},
			wantErr: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewFlashOptions()
			tt.mutate(o)

			var errs []error
			require.NotPanics(t, func() { errs = o.Validate() })
			assert.Len(t, errs, tt.wantErr)
		})
	}
}
