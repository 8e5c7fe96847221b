package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatedBasket(t *testing.T) {
	tests := []struct {
		variantID int64
		want      int
	}{
		{9_900_000, 1},    // prefix 99 <= 143
		{14_300_000, 1},   // prefix 143, boundary of basket 1
		{14_400_000, 2},   // prefix 144, first of basket 2
		{100_000_000, 5},  // prefix 1000 <= 1007
		{456_600_000, 26}, // past the last threshold
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, estimatedBasket(tt.variantID), "variant %d", tt.variantID)
	}
}

func TestPhotoURL(t *testing.T) {
	url := photoURL(123456789, 5)
	assert.Equal(t, "https://basket-05.wbbasket.ru/vol1234/part123456/123456789/images/big/1.webp", url)
}

func TestPhotoURL_PadsBasketNumber(t *testing.T) {
	assert.Contains(t, photoURL(1, 3), "basket-03.")
	assert.Contains(t, photoURL(1, 12), "basket-12.")
}
