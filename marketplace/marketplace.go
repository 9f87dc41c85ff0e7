// Package marketplace is the data-access layer of the storefront: one
// repository per entity type, carts and wishlists, and the relationships
// deletes cascade along.
package marketplace

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jacentio/storefront/store"
)

// Marketplace holds a repository for every entity type.
type Marketplace struct {
	Users          *store.Repository[User]
	Categories     *store.Repository[ProductCategory]
	Brands         *store.Repository[BrandProfile]
	Products       *store.Repository[Product]
	Shipping       *store.Repository[Shipping]
	AuditLogs      *store.Repository[AuditLog]
	Customers      *store.Repository[CustomerProfile]
	Addresses      *store.Repository[Address]
	PaymentMethods *store.Repository[PaymentMethod]
	Orders         *store.Repository[Order]

	Cart     *store.ItemList[CartItem]
	Wishlist *store.ItemList[WishlistItem]

	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New builds the repositories over s and installs the marketplace
// relationships as s's registry.
func New(s *store.Store, logger *zap.Logger) *Marketplace {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Marketplace{
		Users:          store.NewRepository(s, UserSchema),
		Categories:     store.NewRepository(s, ProductCategorySchema),
		Brands:         store.NewRepository(s, BrandSchema),
		Products:       store.NewRepository(s, ProductSchema),
		Shipping:       store.NewRepository(s, ShippingSchema),
		AuditLogs:      store.NewRepository(s, AuditLogSchema),
		Customers:      store.NewRepository(s, CustomerSchema),
		Addresses:      store.NewRepository(s, AddressSchema),
		PaymentMethods: store.NewRepository(s, PaymentMethodSchema),
		Orders:         store.NewRepository(s, OrderSchema),
		Cart: store.NewItemList(s, TypeCart,
			func(it CartItem) string { return it.ProductID },
			func(existing, added CartItem) CartItem {
				existing.Quantity += added.Quantity
				return existing
			},
		),
		Wishlist: store.NewItemList(s, TypeWishlist,
			func(it WishlistItem) string { return it.ProductID },
			nil,
		),
		store:  s,
		logger: logger,
		now:    time.Now,
	}
	s.SetRegistry(m.relationships())
	return m
}

// Store returns the underlying store.
func (m *Marketplace) Store() *store.Store {
	return m.store
}

// Registry returns the relationships deletes cascade along.
func (m *Marketplace) Registry() *store.Registry {
	return m.store.Registry()
}

// --- Products ---

// CreateProduct stores a new product under its id and its brand.
func (m *Marketplace) CreateProduct(ctx context.Context, p Product) error {
	return m.Products.Create(ctx, p)
}

// UpdateProduct overwrites a product. Moving a product to another brand must
// go through MoveProduct.
func (m *Marketplace) UpdateProduct(ctx context.Context, p Product) error {
	return m.Products.Update(ctx, p)
}

// MoveProduct writes p and drops the brand index entry of prev.
func (m *Marketplace) MoveProduct(ctx context.Context, prev, p Product) error {
	return m.Products.Replace(ctx, prev, p)
}

// DeleteProduct removes a product and the brand index entry of the stored
// record.
func (m *Marketplace) DeleteProduct(ctx context.Context, id string) error {
	return m.Products.DeleteByID(ctx, id)
}

// GetProduct reads a product by id.
func (m *Marketplace) GetProduct(ctx context.Context, id string) (Product, error) {
	return m.Products.Get(ctx, id)
}

// ListProducts pages through every product.
func (m *Marketplace) ListProducts(ctx context.Context, cursor string, limit int) (store.Page[Product], error) {
	return m.Products.List(ctx, store.Query{Cursor: cursor, Limit: limit})
}

// ListProductsByBrand pages through the products of one brand.
func (m *Marketplace) ListProductsByBrand(ctx context.Context, brandID, cursor string, limit int) (store.Page[Product], error) {
	return m.Products.List(ctx, store.Query{Index: IndexByBrand, Value: brandID, Cursor: cursor, Limit: limit})
}

// --- Categories ---

func (m *Marketplace) CreateProductCategory(ctx context.Context, c ProductCategory) error {
	return m.Categories.Create(ctx, c)
}

func (m *Marketplace) UpdateProductCategory(ctx context.Context, c ProductCategory) error {
	return m.Categories.Update(ctx, c)
}

func (m *Marketplace) DeleteProductCategory(ctx context.Context, id string) error {
	return m.Categories.Delete(ctx, ProductCategory{ID: id})
}

func (m *Marketplace) GetProductCategory(ctx context.Context, id string) (ProductCategory, error) {
	return m.Categories.Get(ctx, id)
}

func (m *Marketplace) ListProductCategories(ctx context.Context, cursor string, limit int) (store.Page[ProductCategory], error) {
	return m.Categories.List(ctx, store.Query{Cursor: cursor, Limit: limit})
}

// --- Brands ---

// CreateBrand stores a new brand under its id and its owning user.
func (m *Marketplace) CreateBrand(ctx context.Context, b BrandProfile) error {
	return m.Brands.Create(ctx, b)
}

func (m *Marketplace) UpdateBrand(ctx context.Context, b BrandProfile) error {
	return m.Brands.Update(ctx, b)
}

// DeleteBrand removes a brand and the user index entry of the stored record.
// Its products are removed by the cascade.
func (m *Marketplace) DeleteBrand(ctx context.Context, id string) error {
	return m.Brands.DeleteByID(ctx, id)
}

func (m *Marketplace) GetBrand(ctx context.Context, id string) (BrandProfile, error) {
	return m.Brands.Get(ctx, id)
}

func (m *Marketplace) ListBrands(ctx context.Context, cursor string, limit int) (store.Page[BrandProfile], error) {
	return m.Brands.List(ctx, store.Query{Cursor: cursor, Limit: limit})
}

func (m *Marketplace) ListBrandsByUser(ctx context.Context, userID, cursor string, limit int) (store.Page[BrandProfile], error) {
	return m.Brands.List(ctx, store.Query{Index: IndexByUser, Value: userID, Cursor: cursor, Limit: limit})
}

// --- Users and customers ---

func (m *Marketplace) CreateUser(ctx context.Context, u User) error {
	return m.Users.Create(ctx, u)
}

func (m *Marketplace) UpdateUser(ctx context.Context, u User) error {
	return m.Users.Update(ctx, u)
}

// DeleteUser removes the user record. Everything the user owns is removed by
// the cascade.
func (m *Marketplace) DeleteUser(ctx context.Context, id string) error {
	return m.Users.Delete(ctx, User{ID: id})
}

func (m *Marketplace) GetUser(ctx context.Context, id string) (User, error) {
	return m.Users.Get(ctx, id)
}

func (m *Marketplace) CreateCustomer(ctx context.Context, c CustomerProfile) error {
	return m.Customers.Create(ctx, c)
}

func (m *Marketplace) UpdateCustomer(ctx context.Context, c CustomerProfile) error {
	return m.Customers.Update(ctx, c)
}

func (m *Marketplace) DeleteCustomer(ctx context.Context, userID string) error {
	return m.Customers.Delete(ctx, CustomerProfile{UserID: userID})
}

func (m *Marketplace) GetCustomer(ctx context.Context, userID string) (CustomerProfile, error) {
	return m.Customers.Get(ctx, userID)
}

// --- Orders, addresses, payment methods ---

func (m *Marketplace) CreateOrder(ctx context.Context, o Order) error {
	return m.Orders.Create(ctx, o)
}

func (m *Marketplace) UpdateOrder(ctx context.Context, o Order) error {
	return m.Orders.Update(ctx, o)
}

func (m *Marketplace) DeleteOrder(ctx context.Context, userID, orderID string) error {
	return m.Orders.Delete(ctx, Order{ID: orderID, UserID: userID})
}

func (m *Marketplace) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	return m.Orders.Get(ctx, userID, orderID)
}

func (m *Marketplace) ListOrders(ctx context.Context, userID, cursor string, limit int) (store.Page[Order], error) {
	return m.Orders.List(ctx, store.Query{Owner: userID, Cursor: cursor, Limit: limit})
}

func (m *Marketplace) CreateAddress(ctx context.Context, a Address) error {
	return m.Addresses.Create(ctx, a)
}

func (m *Marketplace) UpdateAddress(ctx context.Context, a Address) error {
	return m.Addresses.Update(ctx, a)
}

func (m *Marketplace) DeleteAddress(ctx context.Context, userID, addressID string) error {
	return m.Addresses.Delete(ctx, Address{ID: addressID, UserID: userID})
}

func (m *Marketplace) GetAddress(ctx context.Context, userID, addressID string) (Address, error) {
	return m.Addresses.Get(ctx, userID, addressID)
}

func (m *Marketplace) ListAddresses(ctx context.Context, userID, cursor string, limit int) (store.Page[Address], error) {
	return m.Addresses.List(ctx, store.Query{Owner: userID, Cursor: cursor, Limit: limit})
}

func (m *Marketplace) CreatePaymentMethod(ctx context.Context, p PaymentMethod) error {
	return m.PaymentMethods.Create(ctx, p)
}

func (m *Marketplace) UpdatePaymentMethod(ctx context.Context, p PaymentMethod) error {
	return m.PaymentMethods.Update(ctx, p)
}

func (m *Marketplace) DeletePaymentMethod(ctx context.Context, userID, methodID string) error {
	return m.PaymentMethods.Delete(ctx, PaymentMethod{ID: methodID, UserID: userID})
}

func (m *Marketplace) GetPaymentMethod(ctx context.Context, userID, methodID string) (PaymentMethod, error) {
	return m.PaymentMethods.Get(ctx, userID, methodID)
}

func (m *Marketplace) ListPaymentMethods(ctx context.Context, userID, cursor string, limit int) (store.Page[PaymentMethod], error) {
	return m.PaymentMethods.List(ctx, store.Query{Owner: userID, Cursor: cursor, Limit: limit})
}

// --- Shipping ---

func (m *Marketplace) CreateShipping(ctx context.Context, s Shipping) error {
	return m.Shipping.Create(ctx, s)
}

func (m *Marketplace) UpdateShipping(ctx context.Context, s Shipping) error {
	return m.Shipping.Update(ctx, s)
}

func (m *Marketplace) DeleteShipping(ctx context.Context, id string) error {
	return m.Shipping.DeleteByID(ctx, id)
}

func (m *Marketplace) GetShipping(ctx context.Context, id string) (Shipping, error) {
	return m.Shipping.Get(ctx, id)
}

func (m *Marketplace) ListShippingByOrder(ctx context.Context, orderID, cursor string, limit int) (store.Page[Shipping], error) {
	return m.Shipping.List(ctx, store.Query{Index: IndexByOrder, Value: orderID, Cursor: cursor, Limit: limit})
}

// --- Audit log ---

// RecordAudit stores an audit entry, filling in the id and timestamp when
// unset.
func (m *Marketplace) RecordAudit(ctx context.Context, a AuditLog) (AuditLog, error) {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}
	return a, m.AuditLogs.Create(ctx, a)
}

func (m *Marketplace) ListAuditByUser(ctx context.Context, userID, cursor string, limit int) (store.Page[AuditLog], error) {
	return m.AuditLogs.List(ctx, store.Query{Index: IndexByUser, Value: userID, Cursor: cursor, Limit: limit})
}

func (m *Marketplace) ListAuditByTarget(ctx context.Context, targetID, cursor string, limit int) (store.Page[AuditLog], error) {
	return m.AuditLogs.List(ctx, store.Query{Index: IndexByTarget, Value: targetID, Cursor: cursor, Limit: limit})
}

// --- Cart and wishlist ---

func (m *Marketplace) SetCart(ctx context.Context, userID string, items []CartItem) error {
	return m.Cart.Set(ctx, userID, items)
}

// AddToCart adds quantity of a product, merging into an existing line.
func (m *Marketplace) AddToCart(ctx context.Context, userID, productID string, quantity int) ([]CartItem, error) {
	if quantity <= 0 {
		quantity = 1
	}
	return m.Cart.Add(ctx, userID, CartItem{ProductID: productID, Quantity: quantity, AddedAt: m.now().UTC()})
}

func (m *Marketplace) RemoveFromCart(ctx context.Context, userID, productID string) ([]CartItem, error) {
	return m.Cart.Remove(ctx, userID, productID)
}

func (m *Marketplace) GetCart(ctx context.Context, userID string) ([]CartItem, error) {
	return m.Cart.Get(ctx, userID)
}

func (m *Marketplace) ClearCart(ctx context.Context, userID string) error {
	return m.Cart.Clear(ctx, userID)
}

func (m *Marketplace) SetWishlist(ctx context.Context, userID string, items []WishlistItem) error {
	return m.Wishlist.Set(ctx, userID, items)
}

// AddToWishlist saves a product once; saving it again is a no-op.
func (m *Marketplace) AddToWishlist(ctx context.Context, userID, productID string) ([]WishlistItem, error) {
	return m.Wishlist.Add(ctx, userID, WishlistItem{ProductID: productID, AddedAt: m.now().UTC()})
}

func (m *Marketplace) RemoveFromWishlist(ctx context.Context, userID, productID string) ([]WishlistItem, error) {
	return m.Wishlist.Remove(ctx, userID, productID)
}

func (m *Marketplace) GetWishlist(ctx context.Context, userID string) ([]WishlistItem, error) {
	return m.Wishlist.Get(ctx, userID)
}

func (m *Marketplace) ClearWishlist(ctx context.Context, userID string) error {
	return m.Wishlist.Clear(ctx, userID)
}
