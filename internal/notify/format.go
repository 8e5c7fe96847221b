package notify

import (
	"fmt"
	"strings"

	"sellwatch/internal/store"
)

const credentialDisabledText = "⚠️ Ваш API-ключ отклонён маркетплейсом и был отключён. Подключите новый ключ, чтобы продолжить получать уведомления."

// OrderDigest carries one new order together with the derived
// statistics the notification text needs.
type OrderDigest struct {
	Order store.Order

	// Counter is the order's position within the tenant's day,
	// assigned in storage-id order.
	Counter int64
	// DayAmount is the discounted total of the day up to and
	// including this order.
	DayAmount int64

	TodayCount     int64
	TodayTotal     int64
	YesterdayCount int64
	YesterdayTotal int64

	Stocks   []store.WarehouseQuantity
	PhotoURL string
}

// FormatOrder renders the notification text for one new order.
func FormatOrder(d OrderDigest) Message {
	o := d.Order

	var sb strings.Builder
	fmt.Fprintf(&sb, "🛍 <b>Заказ №%d</b> на %d ₽\n", d.Counter, d.DayAmount)
	fmt.Fprintf(&sb, "🕒 %s\n\n", o.OccurredAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "💰 %d ₽ (скидка %.0f%%)\n", o.DiscountedPrice(), o.DiscountPercent)
	fmt.Fprintf(&sb, "🏷 %s / %s / %s\n", o.Category, o.Subject, o.Brand)
	fmt.Fprintf(&sb, "📦 Артикул: %s (%d)", o.Article, o.VariantID)
	if o.Size != "" && o.Size != "0" {
		fmt.Fprintf(&sb, ", размер %s", o.Size)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "🚚 %s➡%s\n\n", o.Warehouse, o.Region)

	fmt.Fprintf(&sb, "📊 Сегодня по товару: %s\n", formatTotals(d.TodayCount, d.TodayTotal))
	fmt.Fprintf(&sb, "📉 Вчера по товару: %s\n", formatTotals(d.YesterdayCount, d.YesterdayTotal))

	if line := formatStocks(d.Stocks); line != "" {
		fmt.Fprintf(&sb, "🏬 Остатки: %s\n", line)
	}

	return Message{Text: sb.String(), PhotoURL: d.PhotoURL}
}

// formatTotals renders "N на X ₽". A zero total with a non-zero count
// means the source reported a zero price, which is a data-quality
// signal, not a real total.
func formatTotals(count, total int64) string {
	if count == 0 {
		return "нет заказов"
	}
	if total == 0 {
		return fmt.Sprintf("%d шт", count)
	}
	return fmt.Sprintf("%d на %d ₽", count, total)
}

func formatStocks(stocks []store.WarehouseQuantity) string {
	if len(stocks) == 0 {
		return ""
	}

	parts := make([]string, len(stocks))
	for i, wq := range stocks {
		parts[i] = fmt.Sprintf("%s: %d", wq.Warehouse, wq.Quantity)
	}
	return strings.Join(parts, ", ")
}
