package mediaquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	phone   = Viewport{Width: 390, Height: 844, Hover: false}
	tablet  = Viewport{Width: 1024, Height: 768, Hover: true, ColorScheme: "dark"}
	desktop = Viewport{Width: 1920, Height: 1080, Hover: true}
)

func TestParse_Match(t *testing.T) {
	tests := []struct {
		query string
		vp    Viewport
		want  bool
	}{
		{"(max-width: 600px)", phone, true},
		{"(max-width: 600px)", tablet, false},
		{"(min-width: 1024px)", tablet, true},
		{"(min-width: 1025px)", tablet, false},
		{"(width: 390px)", phone, true},
		{"(width)", phone, true},
		{"(min-width: 40em)", tablet, true},
		{"(max-width: 40rem)", tablet, false},
		{"(max-width: 0)", phone, false},
		{"(orientation: portrait)", phone, true},
		{"(orientation: landscape)", phone, false},
		{"(orientation: landscape)", desktop, true},
		{"(prefers-color-scheme: dark)", tablet, true},
		{"(prefers-color-scheme: dark)", desktop, false},
		{"(prefers-color-scheme: light)", desktop, true},
		{"(hover: hover)", desktop, true},
		{"(hover: none)", phone, true},
		{"(hover)", phone, false},
		{"(any-hover: hover)", tablet, true},
		{"(min-aspect-ratio: 16/9)", desktop, true},
		{"(max-aspect-ratio: 1/1)", phone, true},
		{"(min-aspect-ratio: 1.5)", tablet, false},
		{"screen", phone, true},
		{"all", phone, true},
		{"print", phone, false},
		{"screen and (min-width: 768px) and (max-width: 1279px)", tablet, true},
		{"screen and (min-width: 768px) and (max-width: 1279px)", desktop, false},
		{"only screen and (max-width: 600px)", phone, true},
		{"not screen and (max-width: 600px)", phone, false},
		{"not screen and (max-width: 600px)", desktop, true},
		{"not print", phone, true},
		{"print, (max-width: 600px)", phone, true},
		{"print, (max-width: 600px)", desktop, false},
		{"SCREEN AND (MAX-WIDTH: 600PX)", phone, true},
		{"  (min-height: 800px)  ", phone, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Match(tt.vp))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"(max-width 600px)",
		"(max-width: 600px",
		"(max-width: 600)",
		"(max-width: 600vw)",
		"(min-width)",
		"(orientation: sideways)",
		"(min-orientation: portrait)",
		"(prefers-color-scheme: 3px)",
		"(color-gamut: p3)",
		"(min-aspect-ratio: 16/0)",
		"and (hover)",
		"screen and",
		"(hover),",
	}

	for _, query := range invalid {
		t.Run(query, func(t *testing.T) {
			_, err := Parse(query)
			assert.Error(t, err)
		})
	}
}

func TestQuery_String(t *testing.T) {
	q, err := Parse("(max-width: 600px)")
	require.NoError(t, err)
	assert.Equal(t, "(max-width: 600px)", q.String())

	var nilQuery *Query
	assert.False(t, nilQuery.Match(phone))
	assert.Equal(t, "", nilQuery.String())
}

func TestViewport_Orientation(t *testing.T) {
	assert.Equal(t, "portrait", Viewport{Width: 500, Height: 500}.Orientation())
	assert.Equal(t, "landscape", Viewport{Width: 501, Height: 500}.Orientation())
}
