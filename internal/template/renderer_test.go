package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer("fr", "FCFA")
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		segment  Segment
		template Name
		ctx      map[string]any
		contains []string
	}{
		{
			name:     "quantity_prompt_formats_currency",
			segment:  SegmentDefault,
			template: NameQuantityPrompt,
			ctx: map[string]any{
				"product": map[string]any{"name": "Robe wax", "price": int64(15000), "available": 10},
			},
			contains: []string{"Robe wax", "FCFA", "Combien"},
		},
		{
			name:     "stock_urgency_banner_at_three_or_fewer",
			segment:  SegmentDefault,
			template: NameQuantityPrompt,
			ctx: map[string]any{
				"product": map[string]any{"name": "Robe wax", "price": int64(15000), "available": 2},
			},
			contains: []string{"Plus que 2 en stock"},
		},
		{
			name:     "payment_link_shows_remaining_time",
			segment:  SegmentDefault,
			template: NamePaymentLink,
			ctx: map[string]any{
				"payment": map[string]any{"url": "https://pay.example/tok"},
				"order":   map[string]any{"expires_at": now.Add(9*time.Minute + 30*time.Second)},
			},
			contains: []string{"https://pay.example/tok", "09:30"},
		},
		{
			name:     "live_seller_segment_overrides_tone",
			segment:  SegmentLiveSeller,
			template: NameWelcome,
			ctx: map[string]any{
				"vendor": map[string]any{"name": "Aïcha Store"},
			},
			contains: []string{"live de Aïcha Store"},
		},
		{
			name:     "segment_without_override_falls_back_to_default",
			segment:  SegmentB2B,
			template: NameQuantityPrompt,
			ctx: map[string]any{
				"product": map[string]any{"name": "Carton de pagnes", "price": int64(90000), "available": 50},
			},
			contains: []string{"Carton de pagnes", "Combien"},
		},
		{
			name:     "diamond_tier_greeting",
			segment:  SegmentDefault,
			template: NameWelcome,
			ctx: map[string]any{
				"vendor": map[string]any{"name": "Aïcha Store"},
				"client": map[string]any{"tier": "diamond"},
			},
			contains: []string{"💎", "Aïcha Store"},
		},
		{
			name:     "loyalty_milestone_on_fifth_payment",
			segment:  SegmentDefault,
			template: NameOrderPaid,
			ctx: map[string]any{
				"product": map[string]any{"name": "Robe wax"},
				"order":   map[string]any{"quantity": 1},
				"client":  map[string]any{"display_name": "Fatou", "successful_payments": 5},
			},
			contains: []string{"Fatou", "5e commande payée"},
		},
		{
			name:     "missing_placeholder_renders_empty",
			segment:  SegmentDefault,
			template: NameOrderExpired,
			ctx:      map[string]any{},
			contains: []string{"a expiré"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := r.Render(tt.segment, tt.template, tt.ctx, now)
			for _, want := range tt.contains {
				assert.Contains(t, msg.Text, want)
			}
		})
	}
}

func TestRenderer_OrderSummaryCarriesConfirmButtons(t *testing.T) {
	r := NewRenderer("fr", "FCFA")
	msg := r.Render(SegmentDefault, NameOrderSummary, map[string]any{
		"product": map[string]any{"name": "Robe wax"},
		"order":   map[string]any{"quantity": 2, "total_amount": int64(30000)},
	}, time.Now())

	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, ButtonConfirm, msg.Buttons[0].ID)
	assert.Equal(t, ButtonCancel, msg.Buttons[1].ID)
	assert.Contains(t, msg.Text, "2 ×")
}

func TestRenderer_RemainingClampsAtZero(t *testing.T) {
	r := NewRenderer("fr", "FCFA")
	now := time.Now()
	msg := r.Render(SegmentDefault, NameReminder, map[string]any{
		"product": map[string]any{"name": "Robe wax"},
		"payment": map[string]any{"url": "https://pay.example/tok"},
		"order":   map[string]any{"expires_at": now.Add(-time.Minute)},
	}, now)
	assert.Contains(t, msg.Text, "00:00")
}

func TestParseSegment(t *testing.T) {
	assert.Equal(t, SegmentLiveSeller, ParseSegment("live_seller"))
	assert.Equal(t, SegmentDefault, ParseSegment("garage_sale"))
	assert.Equal(t, SegmentDefault, ParseSegment(""))
}

// every segment override must point at a name the default set also carries,
// otherwise the fallback contract is broken
func TestSegmentOverridesStayWithinDefaultSet(t *testing.T) {
	for seg, set := range segmentSets {
		for name := range set {
			_, ok := defaultSet[name]
			assert.True(t, ok, "segment %s overrides unknown template %s", seg, name)
		}
	}
}
