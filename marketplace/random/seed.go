package random

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/storefront/marketplace"
)

// Plan sizes a seeding run.
type Plan struct {
	Categories       int
	Brands           int
	ProductsPerBrand int
	Customers        int
	// CartSize and WishlistSize are the lines per customer.
	CartSize     int
	WishlistSize int
	// Concurrency caps the goroutines writing at once. Zero means unlimited.
	Concurrency int
}

// DefaultPlan returns the development data set.
func DefaultPlan() Plan {
	return Plan{
		Categories:       4,
		Brands:           5,
		ProductsPerBrand: 8,
		Customers:        10,
		CartSize:         3,
		WishlistSize:     3,
		Concurrency:      8,
	}
}

// Summary counts what a seeding run created.
type Summary struct {
	Categories int
	Users      int
	Brands     int
	Products   int
	Customers  int
	Orders     int
}

// Seed fills m with categories, then brands with their products, then
// customers with an address, payment method, order, cart and wishlist each.
func Seed(ctx context.Context, m *marketplace.Marketplace, g *Generator, plan Plan) (Summary, error) {
	var (
		mu  sync.Mutex
		sum Summary
	)
	group := func() (*errgroup.Group, context.Context) {
		eg, gctx := errgroup.WithContext(ctx)
		if plan.Concurrency > 0 {
			eg.SetLimit(plan.Concurrency)
		}
		return eg, gctx
	}

	categories := make([]marketplace.ProductCategory, plan.Categories)
	eg, gctx := group()
	for i := range categories {
		categories[i] = g.Category()
		c := categories[i]
		eg.Go(func() error {
			if err := m.CreateProductCategory(gctx, c); err != nil {
				return fmt.Errorf("create category %s: %w", c.ID, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}
	sum.Categories = len(categories)
	if len(categories) == 0 && plan.Brands > 0 && plan.ProductsPerBrand > 0 {
		return sum, fmt.Errorf("seeding products needs at least one category")
	}

	var products []marketplace.Product
	eg, gctx = group()
	for range plan.Brands {
		eg.Go(func() error {
			user := g.User(marketplace.RoleBrand)
			brand := g.Brand(user.ID)
			if err := m.CreateUser(gctx, user); err != nil {
				return fmt.Errorf("create brand user %s: %w", user.ID, err)
			}
			if err := m.CreateBrand(gctx, brand); err != nil {
				return fmt.Errorf("create brand %s: %w", brand.ID, err)
			}
			owned := make([]marketplace.Product, 0, plan.ProductsPerBrand)
			for range plan.ProductsPerBrand {
				p := g.Product(brand.ID, g.PickCategory(categories).ID)
				if err := m.CreateProduct(gctx, p); err != nil {
					return fmt.Errorf("create product %s: %w", p.ID, err)
				}
				owned = append(owned, p)
			}

			mu.Lock()
			defer mu.Unlock()
			products = append(products, owned...)
			sum.Users++
			sum.Brands++
			sum.Products += len(owned)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}

	eg, gctx = group()
	for range plan.Customers {
		eg.Go(func() error {
			user := g.User(marketplace.RoleCustomer)
			address := g.Address(user.ID)
			payment := g.PaymentMethod(user.ID)
			if err := m.CreateUser(gctx, user); err != nil {
				return fmt.Errorf("create customer user %s: %w", user.ID, err)
			}
			if err := m.CreateCustomer(gctx, g.Customer(user.ID)); err != nil {
				return fmt.Errorf("create customer %s: %w", user.ID, err)
			}
			if err := m.CreateAddress(gctx, address); err != nil {
				return fmt.Errorf("create address %s: %w", address.ID, err)
			}
			if err := m.CreatePaymentMethod(gctx, payment); err != nil {
				return fmt.Errorf("create payment method %s: %w", payment.ID, err)
			}

			orders := 0
			if len(products) > 0 {
				order := g.Order(user.ID, products, address.ID, payment.ID)
				if err := m.CreateOrder(gctx, order); err != nil {
					return fmt.Errorf("create order %s: %w", order.ID, err)
				}
				orders++
			}
			if err := m.SetCart(gctx, user.ID, g.CartItems(products, plan.CartSize)); err != nil {
				return fmt.Errorf("set cart of %s: %w", user.ID, err)
			}
			if err := m.SetWishlist(gctx, user.ID, g.WishlistItems(products, plan.WishlistSize)); err != nil {
				return fmt.Errorf("set wishlist of %s: %w", user.ID, err)
			}

			mu.Lock()
			defer mu.Unlock()
			sum.Users++
			sum.Customers++
			sum.Orders += orders
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}
