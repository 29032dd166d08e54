// Package template renders outbound buyer messages. Rendering is a pure
// function of (segment, name, context, now): no I/O, no stored state, so the
// conversation layer can be tested against exact message text.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/streamsell/streamsell/internal/chat"
)

// Segment selects the template set matching the vendor's business. A segment
// only overrides the templates where its tone differs; everything else falls
// back to the default set.
type Segment string

const (
	SegmentDefault    Segment = "default"
	SegmentLiveSeller Segment = "live_seller"
	SegmentFixedShop  Segment = "fixed_shop"
	SegmentEvents     Segment = "events"
	SegmentServices   Segment = "services"
	SegmentB2B        Segment = "b2b"
)

func ParseSegment(s string) Segment {
	switch Segment(s) {
	case SegmentLiveSeller, SegmentFixedShop, SegmentEvents, SegmentServices, SegmentB2B:
		return Segment(s)
	default:
		return SegmentDefault
	}
}

// Name identifies one message. Typed so a renamed template breaks at compile
// time instead of silently rendering the fallback.
type Name string

const (
	NameWelcome         Name = "welcome"
	NameQuantityPrompt  Name = "quantity_prompt"
	NameOutOfStock      Name = "out_of_stock"
	NameInvalidQuantity Name = "invalid_quantity"
	NameOrderSummary    Name = "order_summary"
	NamePaymentLink     Name = "payment_link"
	NamePrePayment      Name = "pre_payment"
	NameUpsell          Name = "upsell"
	NameReminder        Name = "reminder"
	NameOrderPaid       Name = "order_paid"
	NameOrderExpired    Name = "order_expired"
	NameOrderCancelled  Name = "order_cancelled"
	NameStockChanged    Name = "stock_changed"
	NameHelp            Name = "help"
	NameStatusHeader    Name = "status_header"
	NameStatusLine      Name = "status_line"
	NameStatusEmpty     Name = "status_empty"
	NameUnknownKeyword  Name = "unknown_keyword"
)

const (
	ButtonConfirm = "confirm_order"
	ButtonCancel  = "cancel_order"
)

type Message struct {
	Text    string
	Buttons []chat.Button
}

type entry struct {
	text    string
	buttons []chat.Button
}

var confirmButtons = []chat.Button{
	{ID: ButtonConfirm, Label: "✅ Confirmer"},
	{ID: ButtonCancel, Label: "❌ Annuler"},
}

// defaultSet carries every Name; segment sets only override.
var defaultSet = map[Name]entry{
	NameWelcome:         {text: "{greeting}Bienvenue chez {vendor.name} 👋 Envoyez le mot-clé d'un article pour commander, ou \"aide\" pour la liste des commandes."},
	NameQuantityPrompt:  {text: "{product.name} — {product.price}.{urgency} Combien en voulez-vous ?"},
	NameOutOfStock:      {text: "Désolé, {product.name} est épuisé pour le moment 😔"},
	NameInvalidQuantity: {text: "Quantité invalide. Il reste {product.available} disponible(s), indiquez un nombre entre 1 et {product.available}."},
	NameOrderSummary:    {text: "Récapitulatif : {order.quantity} × {product.name} = {order.total_amount}. On confirme ?", buttons: confirmButtons},
	NamePaymentLink:     {text: "Commande réservée ✅ Payez ici : {payment.url}\nVotre réservation expire dans {remaining}.{milestone}"},
	NamePrePayment:      {text: "Commande réservée. Un prépaiement est requis pour la maintenir : {payment.url}\nExpire dans {remaining}."},
	NameUpsell:          {text: "💡 Nos clients prennent souvent un deuxième {product.name} — répondez avec la quantité pour ajuster."},
	NameReminder:        {text: "⏰ Votre réservation de {product.name} expire dans {remaining}. Payez vite pour ne pas la perdre : {payment.url}"},
	NameOrderPaid:       {text: "Paiement reçu ✅ Merci {client.display_name} ! Votre commande de {order.quantity} × {product.name} est confirmée.{milestone}"},
	NameOrderExpired:    {text: "Votre réservation de {product.name} a expiré et les articles ont été remis en vente. Renvoyez le mot-clé pour recommander."},
	NameOrderCancelled:  {text: "Commande annulée. Les articles sont de nouveau disponibles. À bientôt !"},
	NameStockChanged:    {text: "Oups, le stock a changé pendant la confirmation : il ne reste plus assez de {product.name}. Renvoyez le mot-clé pour voir la disponibilité."},
	NameHelp:            {text: "Commandes disponibles :\n• mot-clé d'un article pour commander\n• \"statut\" pour vos commandes récentes\n• \"annuler\" pour abandonner la commande en cours"},
	NameStatusHeader:    {text: "Vos commandes récentes :"},
	NameStatusLine:      {text: "• {order.quantity} × {order.product_name} — {order.total_amount} ({order.status})"},
	NameStatusEmpty:     {text: "Aucune commande pour le moment. Envoyez le mot-clé d'un article pour commencer !"},
	NameUnknownKeyword:  {text: "Mot-clé non reconnu 🤔 Envoyez \"aide\" pour la liste des commandes, ou le mot-clé exact d'un article."},
}

var segmentSets = map[Segment]map[Name]entry{
	SegmentLiveSeller: {
		NameWelcome:        {text: "{greeting}🔴 Bienvenue dans le live de {vendor.name} ! Envoyez le mot-clé affiché à l'écran pour réserver."},
		NameQuantityPrompt: {text: "🔥 {product.name} — {product.price}.{urgency} Combien de pièces ?"},
		NameOutOfStock:     {text: "💨 Trop tard, {product.name} est parti ! Restez connecté, d'autres articles arrivent."},
		NamePaymentLink:    {text: "🎉 C'est réservé ! Payez dans les {remaining} pour bloquer votre pièce : {payment.url}{milestone}"},
		NameReminder:       {text: "⏰ Plus que {remaining} pour votre {product.name} ! Le stock repart en vente après : {payment.url}"},
	},
	SegmentFixedShop: {
		NameWelcome: {text: "{greeting}Bienvenue à la boutique {vendor.name}. Envoyez la référence d'un article pour commander."},
	},
	SegmentEvents: {
		NameQuantityPrompt: {text: "🎟 {product.name} — {product.price} la place.{urgency} Combien de places ?"},
		NameOrderPaid:      {text: "🎟 Paiement reçu ! Vos {order.quantity} place(s) pour {product.name} sont confirmées. Présentez ce message à l'entrée.{milestone}"},
	},
	SegmentServices: {
		NameQuantityPrompt: {text: "{product.name} — {product.price} la prestation. Pour combien de personnes ?"},
	},
	SegmentB2B: {
		NameWelcome:      {text: "Bonjour, ici {vendor.name}. Envoyez la référence produit pour ouvrir une commande."},
		NameOrderSummary: {text: "Proposition : {order.quantity} × {product.name}, total {order.total_amount} HT. Confirmez-vous ?", buttons: confirmButtons},
	},
}

var placeholderRe = regexp.MustCompile(`\{([a-z0-9_.]+)\}`)

// currencyKeys are the context leaves rendered as money amounts.
var currencyKeys = map[string]bool{
	"price":        true,
	"unit_price":   true,
	"total":        true,
	"total_amount": true,
	"total_spent":  true,
	"amount":       true,
}

type Renderer struct {
	printer  *message.Printer
	currency string
}

func NewRenderer(locale, currency string) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.French
	}
	if currency == "" {
		currency = "FCFA"
	}
	return &Renderer{printer: message.NewPrinter(tag), currency: currency}
}

// Render resolves the template for (segment, name), computes the derived
// display values and interpolates the context. Unknown names render the
// default set's entry; a name missing from the default set is a programming
// error and yields an empty message.
func (r *Renderer) Render(segment Segment, name Name, ctx map[string]any, now time.Time) Message {
	e, ok := segmentSets[segment][name]
	if !ok {
		e, ok = defaultSet[name]
		if !ok {
			return Message{}
		}
	}

	derived := r.derive(ctx, now)
	text := placeholderRe.ReplaceAllStringFunc(e.text, func(m string) string {
		path := m[1 : len(m)-1]
		if v, ok := derived[path]; ok {
			return v
		}
		return r.formatValue(path, lookup(ctx, path))
	})

	var buttons []chat.Button
	if len(e.buttons) > 0 {
		buttons = append(buttons, e.buttons...)
	}
	return Message{Text: strings.TrimSpace(text), Buttons: buttons}
}

// derive computes the display values templates reference without the caller
// pre-formatting them.
func (r *Renderer) derive(ctx map[string]any, now time.Time) map[string]string {
	out := map[string]string{
		"remaining": "00:00",
		"urgency":   "",
		"greeting":  "",
		"milestone": "",
	}

	if v, ok := lookup(ctx, "order.expires_at").(time.Time); ok {
		out["remaining"] = formatRemaining(v.Sub(now))
	}

	if avail, ok := asInt(lookup(ctx, "product.available")); ok && avail > 0 && avail <= 3 {
		out["urgency"] = fmt.Sprintf(" ⚡ Plus que %d en stock !", avail)
	}

	switch fmt.Sprint(lookup(ctx, "client.tier")) {
	case "silver":
		out["greeting"] = "Content de vous revoir ! "
	case "gold":
		out["greeting"] = "⭐ Bienvenue à notre client or ! "
	case "diamond":
		out["greeting"] = "💎 Bienvenue à notre client diamant ! "
	}

	if n, ok := asInt(lookup(ctx, "client.successful_payments")); ok {
		switch n {
		case 5, 10, 25:
			out["milestone"] = fmt.Sprintf("\n🏆 C'est votre %de commande payée chez nous, merci pour votre fidélité !", n)
		}
	}
	return out
}

func (r *Renderer) formatValue(path string, v any) string {
	if v == nil {
		return ""
	}
	leaf := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		leaf = path[i+1:]
	}
	if currencyKeys[leaf] {
		if n, ok := asInt64(v); ok {
			return r.printer.Sprintf("%v %s", number.Decimal(n), r.currency)
		}
	}
	return fmt.Sprint(v)
}

// lookup resolves a dotted path through nested map[string]any values.
func lookup(ctx map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = ctx
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func asInt(v any) (int, bool) {
	n, ok := asInt64(v)
	return int(n), ok
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
