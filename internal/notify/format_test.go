package notify

import (
	"strings"
	"testing"
	"time"

	"sellwatch/internal/store"

	"github.com/stretchr/testify/assert"
)

func digestFixture() OrderDigest {
	return OrderDigest{
		Order: store.Order{
			OccurredAt:      time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC),
			VariantID:       123456,
			Size:            "M",
			Price:           2500,
			DiscountPercent: 20,
			Warehouse:       "Коледино",
			Region:          "Московская область",
			Category:        "Одежда",
			Subject:         "Футболки",
			Brand:           "TestBrand",
			Article:         "TB-001",
		},
		Counter:        3,
		DayAmount:      6000,
		TodayCount:     2,
		TodayTotal:     4000,
		YesterdayCount: 1,
		YesterdayTotal: 2000,
		Stocks: []store.WarehouseQuantity{
			{Warehouse: "Коледино", Quantity: 12},
			{Warehouse: "Казань", Quantity: 3},
		},
		PhotoURL: "https://basket-05.wbbasket.ru/vol1234/part123456/123456/images/big/1.webp",
	}
}

func TestFormatOrder(t *testing.T) {
	msg := FormatOrder(digestFixture())

	assert.Contains(t, msg.Text, "Заказ №3</b> на 6000 ₽")
	assert.Contains(t, msg.Text, "2026-08-28 14:30")
	assert.Contains(t, msg.Text, "2000 ₽ (скидка 20%)")
	assert.Contains(t, msg.Text, "Одежда / Футболки / TestBrand")
	assert.Contains(t, msg.Text, "TB-001 (123456), размер M")
	assert.Contains(t, msg.Text, "Коледино➡Московская область")
	assert.Contains(t, msg.Text, "Сегодня по товару: 2 на 4000 ₽")
	assert.Contains(t, msg.Text, "Вчера по товару: 1 на 2000 ₽")
	assert.Contains(t, msg.Text, "Остатки: Коледино: 12, Казань: 3")
	assert.Equal(t, digestFixture().PhotoURL, msg.PhotoURL)
}

func TestFormatOrder_SkipsPlaceholderSize(t *testing.T) {
	d := digestFixture()
	d.Order.Size = "0"
	msg := FormatOrder(d)
	assert.NotContains(t, msg.Text, "размер")
}

func TestFormatOrder_NoStocksLineWhenEmpty(t *testing.T) {
	d := digestFixture()
	d.Stocks = nil
	msg := FormatOrder(d)
	assert.NotContains(t, msg.Text, "Остатки")
}

func TestFormatTotals(t *testing.T) {
	assert.Equal(t, "нет заказов", formatTotals(0, 0))
	assert.Equal(t, "5 шт", formatTotals(5, 0))
	assert.Equal(t, "2 на 4000 ₽", formatTotals(2, 4000))
}

func TestDiscountedPriceRounds(t *testing.T) {
	o := store.Order{Price: 999, DiscountPercent: 33}
	// 999 * 0.67 = 669.33 -> 669
	assert.Equal(t, int64(669), o.DiscountedPrice())

	o = store.Order{Price: 2500, DiscountPercent: 20}
	assert.Equal(t, int64(2000), o.DiscountedPrice())
}

func TestCredentialDisabledTextIsHTMLSafe(t *testing.T) {
	// The sender posts with parse_mode HTML; the static notice must
	// not contain markup.
	assert.False(t, strings.ContainsAny(credentialDisabledText, "<>"))
}
