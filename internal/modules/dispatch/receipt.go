// README: Customer-facing receipt text relayed after a trip completes.
package dispatch

import (
	"fmt"
	"strings"

	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/trip"
)

// ReceiptTotal is the amount the customer pays: item price plus delivery fee,
// rounded to the nearest 1000.
func ReceiptTotal(t trip.Trip) int64 {
	return pricing.RoundThousand(float64(t.Price + t.ItemPrice))
}

// FormatReceipt renders the final trip as a plain-text chat message.
func FormatReceipt(t trip.Trip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Receipt for delivery #%d\n", t.TripNumber)
	if t.Vendor != nil && t.Vendor.Name != "" {
		fmt.Fprintf(&b, "From: %s\n", t.Vendor.Name)
	}
	if t.Status == trip.StatusFailed {
		b.WriteString("Status: delivery failed\n")
	}
	for _, line := range t.Receipt {
		fmt.Fprintf(&b, "- %s: %d\n", line.Name, line.Price)
	}
	if t.ItemPrice > 0 {
		fmt.Fprintf(&b, "Items: %d", t.ItemPrice)
		if t.Discounts != nil && t.Discounts.Item > 0 {
			fmt.Fprintf(&b, " (%.0f%% off)", t.Discounts.Item*100)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Delivery fee: %d", t.Price)
	if t.Discounts != nil && t.Discounts.Delivery > 0 {
		fmt.Fprintf(&b, " (%.0f%% off)", t.Discounts.Delivery*100)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Distance: %.1f km\n", t.Distance/1000)
	fmt.Fprintf(&b, "Total: %d", ReceiptTotal(t))
	return b.String()
}
