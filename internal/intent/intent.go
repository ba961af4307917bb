package intent

import (
	"strconv"
	"strings"

	"concierge/internal/catalog"
)

// Kind names the action a piece of inbound text resolves to.
type Kind string

const (
	KindShowCatalog      Kind = "show_catalog"
	KindPing             Kind = "ping"
	KindTestReply        Kind = "test_reply"
	KindGreeting         Kind = "greeting"
	KindPromo            Kind = "promo"
	KindAskWhichProduct  Kind = "ask_which_product"
	KindReplenish        Kind = "replenish"
	KindListProducts     Kind = "list_products"
	KindSelect           Kind = "select"
	KindBroadcast        Kind = "broadcast"
	KindBroadcastService Kind = "broadcast_service"
	KindFallback         Kind = "fallback"
)

// Action is the resolved intent. Index is 0-based and set for select
// and broadcast-service actions; Product for promo; Text carries the
// broadcast payload.
type Action struct {
	Kind    Kind
	Index   int
	Product catalog.Product
	Text    string
}

// AdminOnly reports whether the action may only be executed by the
// configured admin identity.
func (a Action) AdminOnly() bool {
	return a.Kind == KindBroadcast || a.Kind == KindBroadcastService
}

// Resolver maps raw inbound text to an Action via an ordered rule
// list; the first matching rule wins. The resolver is stateless and
// identity-agnostic, admin gating happens in the dispatcher.
type Resolver struct {
	catalog  *catalog.Catalog
	products *catalog.ProductStore
}

func NewResolver(cat *catalog.Catalog, products *catalog.ProductStore) *Resolver {
	return &Resolver{catalog: cat, products: products}
}

var (
	promoKeywords     = []string{"تسويق", "اعلان", "إعلان", "سوق", "روج", "promo", "promote", "market", "advertis"}
	promoAllKeywords  = []string{"كل", "جميع", "all", "every"}
	platformKeywords  = []string{"tiktok", "تيك توك", "تيكتوك"}
	publishKeywords   = []string{"انشر", "نشر", "post", "publish"}
	productsKeywords  = []string{"منتجات", "المنتجات", "products"}
	catalogCommands   = []string{"خدمات", "الخدمات", "قائمة", "القائمة", "services", "menu"}
	greetingCommands  = []string{"مرحبا", "السلام عليكم", "هلا", "hello", "hi"}
	broadcastPrefix   = "!broadcast "
	broadcastSvcWords = "!broadcast-services"
)

// Resolve classifies text. Matching is case-insensitive; Arabic
// keywords match as-is since they carry no case.
func (r *Resolver) Resolve(text string) Action {
	raw := strings.TrimSpace(text)
	lowered := strings.ToLower(raw)

	// 1. Marketing/promo keywords.
	if containsAny(lowered, promoKeywords) {
		if product, ok := r.products.Match(lowered); ok {
			return Action{Kind: KindPromo, Product: product}
		}
		if containsAny(lowered, promoAllKeywords) {
			if product, ok := r.products.Random(); ok {
				return Action{Kind: KindPromo, Product: product}
			}
		}
		return Action{Kind: KindAskWhichProduct}
	}

	// 2. Platform + publish keywords.
	if containsAny(lowered, platformKeywords) && containsAny(lowered, publishKeywords) {
		return Action{Kind: KindReplenish}
	}

	// 3. Products listing.
	if containsAny(lowered, productsKeywords) {
		return Action{Kind: KindListProducts}
	}

	// 4. Literal commands.
	if action, ok := r.resolveLiteral(raw, lowered); ok {
		return action
	}

	// 5. Bare catalog number.
	if n, err := strconv.Atoi(lowered); err == nil {
		if n >= 1 && n <= r.catalog.Size() {
			return Action{Kind: KindSelect, Index: n - 1}
		}
		return Action{Kind: KindFallback}
	}

	// 6. Catalog entry by name.
	if _, idx, ok := r.catalog.Find(raw); ok {
		return Action{Kind: KindSelect, Index: idx}
	}

	// 7. Fallback help.
	return Action{Kind: KindFallback}
}

func (r *Resolver) resolveLiteral(raw, lowered string) (Action, bool) {
	for _, cmd := range catalogCommands {
		if lowered == cmd {
			return Action{Kind: KindShowCatalog}, true
		}
	}
	for _, cmd := range greetingCommands {
		if lowered == cmd {
			return Action{Kind: KindGreeting}, true
		}
	}
	switch lowered {
	case "ping", "!ping":
		return Action{Kind: KindPing}, true
	case "test", "تجربة":
		return Action{Kind: KindTestReply}, true
	}

	if strings.HasPrefix(lowered, broadcastSvcWords) {
		arg := strings.TrimSpace(raw[len(broadcastSvcWords):])
		if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= r.catalog.Size() {
			return Action{Kind: KindBroadcastService, Index: n - 1}, true
		}
		return Action{Kind: KindFallback}, true
	}
	if strings.HasPrefix(lowered, broadcastPrefix) {
		payload := strings.TrimSpace(raw[len(broadcastPrefix):])
		if payload == "" {
			return Action{Kind: KindFallback}, true
		}
		return Action{Kind: KindBroadcast, Text: payload}, true
	}
	return Action{}, false
}

// IsCatalogRequest reports whether text is one of the literal commands
// that re-open catalog selection from a completed conversation.
func IsCatalogRequest(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, cmd := range catalogCommands {
		if lowered == cmd {
			return true
		}
	}
	for _, cmd := range greetingCommands {
		if lowered == cmd {
			return true
		}
	}
	return false
}

// ParseSelection reports whether text is a bare number addressing a
// catalog entry, returning its 0-based index.
func (r *Resolver) ParseSelection(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > r.catalog.Size() {
		return 0, false
	}
	return n - 1, true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
