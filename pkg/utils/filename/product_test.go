package filename

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductCode(t *testing.T) {
	cases := []struct {
		name   string
		object string
		want   string
	}{
		{"variant suffix", "female_clothes/239838409823_01.webp", "239838409823"},
		{"no variant", "toys/31000012.png", "31000012"},
		{"nested path", "archive/2026/male_clothes/4062742300097_03.jpg", "4062742300097"},
		{"no directory", "239838409823_01.webp", "239838409823"},
		{"no extension", "toys/31000012_02", "31000012"},
		{"multiple underscores", "toys/31000012_01_final.png", "31000012"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ProductCode(tc.object))
		})
	}
}

func TestCategory(t *testing.T) {
	cases := []struct {
		name   string
		object string
		want   string
	}{
		{"category directory", "female_clothes/239838409823_01.webp", "female_clothes"},
		{"nested path keeps leading segment", "male_underwear/2026/31000012.png", "male_underwear"},
		{"bucket root", "239838409823_01.webp", ""},
		{"leading slash", "/toys/31000012.png", "toys"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Category(tc.object))
		})
	}
}
