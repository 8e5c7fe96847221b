package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// basketThresholds maps variant id prefixes to the CDN basket host
// that serves the product image. Mirrors the marketplace's own host
// selection function.
var basketThresholds = []int64{
	143, 287, 431, 719, 1007, 1061, 1115, 1169, 1313, 1601,
	1655, 1919, 2045, 2189, 2405, 2621, 2837, 3053, 3269,
	3485, 3701, 3917, 4133, 4349, 4565,
}

const maxBasket = 30

// PhotoResolver locates a working product image URL by probing the
// CDN basket hosts, starting from the estimated one.
type PhotoResolver struct {
	httpClient *http.Client
}

func NewPhotoResolver() *PhotoResolver {
	return &PhotoResolver{
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve returns the URL of the product's main image, or "" when no
// basket host serves it. A missing photo is not an error.
func (r *PhotoResolver) Resolve(ctx context.Context, variantID int64) string {
	for basket := estimatedBasket(variantID); basket <= maxBasket; basket++ {
		url := photoURL(variantID, basket)

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return ""
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return url
		}
	}
	return ""
}

func estimatedBasket(variantID int64) int {
	prefix := variantID / 100000
	for i, max := range basketThresholds {
		if prefix <= max {
			return i + 1
		}
	}
	return 26
}

func photoURL(variantID int64, basket int) string {
	return fmt.Sprintf("https://basket-%02d.wbbasket.ru/vol%d/part%d/%d/images/big/1.webp",
		basket, variantID/100000, variantID/1000, variantID)
}
