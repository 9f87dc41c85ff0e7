// Package random generates plausible marketplace entities for seeding and
// tests.
package random

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/jacentio/storefront/marketplace"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Generator produces entities from a gofakeit source. It is safe for
// concurrent use.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	now   func() time.Time
}

// New returns a generator seeded with seed. A zero seed picks a random one.
func New(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

func (g *Generator) timestamp() time.Time {
	return g.now().UTC()
}

// chance reports true with probability p.
func (g *Generator) chance(p float64) bool {
	return g.faker.Float64() < p
}

func (g *Generator) sentence(words int) string {
	w := make([]string, words)
	for i := range w {
		w[i] = g.faker.Word()
	}
	return strings.ToUpper(w[0][:1]) + strings.Join(w, " ")[1:] + "."
}

func (g *Generator) title() string {
	return fmt.Sprintf("%s %s", g.faker.Word(), g.faker.Animal())
}

// User returns a user with the given role. An empty role picks one.
func (g *Generator) User(role string) marketplace.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	if role == "" {
		role = g.faker.RandomString([]string{marketplace.RoleBrand, marketplace.RoleCustomer, marketplace.RoleAdmin})
	}
	login := strings.ToLower(g.faker.Username())
	return marketplace.User{
		ID:           marketplace.NewID(),
		Login:        login,
		Email:        fmt.Sprintf("%s@%s", login, g.faker.DomainName()),
		PasswordHash: "fake$2b$10$" + g.faker.LetterN(40),
		Role:         role,
		CreatedAt:    g.timestamp(),
	}
}

// Brand returns a brand profile of userID.
func (g *Generator) Brand(userID string) marketplace.BrandProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	company := g.faker.Company()
	slug := slugify(company)
	return marketplace.BrandProfile{
		ID:        marketplace.NewID(),
		UserID:    userID,
		Title:     company,
		Slug:      slug,
		Bio:       g.sentence(10),
		Website:   g.faker.URL(),
		LogoURL:   "https://cdn.example.com/logos/" + slug + ".png",
		CreatedAt: g.timestamp(),
		Status:    g.faker.RandomString([]string{marketplace.StatusActive, marketplace.StatusPending, marketplace.StatusInactive}),
	}
}

// Customer returns the customer profile of userID.
func (g *Generator) Customer(userID string) marketplace.CustomerProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return marketplace.CustomerProfile{
		ID:          marketplace.NewID(),
		UserID:      userID,
		DisplayName: g.faker.FirstName() + " " + g.faker.LastName(),
		AvatarURL:   g.faker.URL(),
		Preferences: map[string]any{
			"theme":    g.faker.RandomString([]string{"light", "dark", "void"}),
			"showNSFW": g.chance(0.2),
		},
		Language:  g.faker.RandomString([]string{"en", "ja", "pt", "es", "fr"}),
		CreatedAt: g.timestamp(),
		Status:    g.faker.RandomString([]string{marketplace.StatusActive, marketplace.StatusPending, marketplace.StatusInactive}),
	}
}

// Category returns a product category named in English and Japanese.
func (g *Generator) Category() marketplace.ProductCategory {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := g.faker.Word()
	return marketplace.ProductCategory{
		ID:   marketplace.NewID(),
		Slug: slugify(name),
		Name: map[string]string{
			"en": strings.ToUpper(name[:1]) + name[1:],
			"ja": "カテゴリ",
		},
	}
}

// Product returns a product of brandID in categoryID priced between 5000 and
// 25000 centavos.
func (g *Generator) Product(brandID, categoryID string) marketplace.Product {
	g.mu.Lock()
	defer g.mu.Unlock()
	inventory := g.faker.IntRange(0, 100)
	url := fmt.Sprintf("https://cdn.example.com/%s.jpg", g.faker.LetterN(12))
	return marketplace.Product{
		ID:          marketplace.NewID(),
		BrandID:     brandID,
		CategoryID:  categoryID,
		Title:       g.title(),
		Price:       g.faker.IntRange(5000, 25000),
		Description: g.title(),
		MainImage:   url,
		Images:      []marketplace.ProductImage{{URL: url}},
		CreatedAt:   g.timestamp(),
		Inventory:   &inventory,
		IsAvailable: g.chance(0.9),
	}
}

// Address returns a postal address of userID.
func (g *Generator) Address(userID string) marketplace.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return marketplace.Address{
		ID:      marketplace.NewID(),
		UserID:  userID,
		Name:    g.faker.FirstName() + " " + g.faker.LastName(),
		Street:  g.faker.Street(),
		City:    g.faker.City(),
		State:   g.faker.State(),
		Zip:     g.faker.Zip(),
		Country: g.faker.CountryAbr(),
		Phone:   g.faker.Phone(),
	}
}

// PaymentMethod returns a stored card of userID.
func (g *Generator) PaymentMethod(userID string) marketplace.PaymentMethod {
	g.mu.Lock()
	defer g.mu.Unlock()
	number := g.faker.CreditCardNumber(&gofakeit.CreditCardOptions{Types: []string{"visa"}})
	lastUsed := g.timestamp()
	return marketplace.PaymentMethod{
		ID:         marketplace.NewID(),
		UserID:     userID,
		Provider:   marketplace.ProviderStripe,
		Label:      "Visa ending in " + number[len(number)-4:],
		LastUsedAt: &lastUsed,
		IsDefault:  g.chance(0.8),
	}
}

// Order returns an order of userID with one to five distinct products of pool.
// Total is the sum of price times quantity over the lines.
func (g *Generator) Order(userID string, pool []marketplace.Product, addressID, paymentMethodID string) marketplace.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	picked := g.pick(pool, g.faker.IntRange(1, 5))
	items := make([]marketplace.OrderItem, 0, len(picked))
	total := 0
	for _, p := range picked {
		qty := g.faker.IntRange(1, 3)
		items = append(items, marketplace.OrderItem{ProductID: p.ID, Quantity: qty})
		total += p.Price * qty
	}
	return marketplace.Order{
		ID:       marketplace.NewID(),
		UserID:   userID,
		Items:    items,
		Total:    total,
		PlacedAt: g.timestamp(),
		Notes:    g.title(),
		Status: g.faker.RandomString([]string{
			marketplace.OrderPending, marketplace.OrderPaid, marketplace.OrderShipped,
			marketplace.OrderCancelled, marketplace.OrderDelivered,
		}),
		ShippingAddressID: addressID,
		PaymentMethodID:   paymentMethodID,
	}
}

// Shipping returns a pending shipment of orderID due in three to ten days.
func (g *Generator) Shipping(orderID string) marketplace.Shipping {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.timestamp()
	eta := now.Add(time.Duration(g.faker.IntRange(3, 10)) * 24 * time.Hour)
	carrier := g.faker.RandomString([]string{"correios", "custom", "manual"})
	s := marketplace.Shipping{
		ID:                marketplace.NewID(),
		OrderID:           orderID,
		Carrier:           carrier,
		EstimatedDelivery: &eta,
		Status: g.faker.RandomString([]string{
			marketplace.ShippingPending, marketplace.ShippingInTransit,
			marketplace.ShippingDelivered, marketplace.ShippingFailed,
		}),
		LastUpdated: now,
		History: []marketplace.ShippingEvent{{
			Status:    marketplace.ShippingPending,
			Timestamp: now,
			Location:  g.faker.City(),
			Note:      "Shipment created",
		}},
	}
	if carrier == "correios" {
		s.TrackingCode = fmt.Sprintf("BR%dBR", g.faker.IntRange(100000000, 999999999))
	}
	return s
}

// CartItems returns n cart lines for distinct products of pool.
func (g *Generator) CartItems(pool []marketplace.Product, n int) []marketplace.CartItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	picked := g.pick(pool, n)
	items := make([]marketplace.CartItem, 0, len(picked))
	for _, p := range picked {
		items = append(items, marketplace.CartItem{
			ProductID: p.ID,
			Quantity:  g.faker.IntRange(1, 4),
			AddedAt:   g.timestamp(),
		})
	}
	return items
}

// WishlistItems returns n wishlist entries for distinct products of pool.
func (g *Generator) WishlistItems(pool []marketplace.Product, n int) []marketplace.WishlistItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	picked := g.pick(pool, n)
	items := make([]marketplace.WishlistItem, 0, len(picked))
	for _, p := range picked {
		items = append(items, marketplace.WishlistItem{ProductID: p.ID, AddedAt: g.timestamp()})
	}
	return items
}

// PickCategory returns one category of pool.
func (g *Generator) PickCategory(pool []marketplace.ProductCategory) marketplace.ProductCategory {
	g.mu.Lock()
	defer g.mu.Unlock()
	return pool[g.faker.IntN(len(pool))]
}

// pick returns up to n distinct elements of pool. The caller holds g.mu.
func (g *Generator) pick(pool []marketplace.Product, n int) []marketplace.Product {
	shuffled := make([]marketplace.Product, len(pool))
	copy(shuffled, pool)
	g.faker.ShuffleAnySlice(shuffled)
	return shuffled[:min(n, len(shuffled))]
}
