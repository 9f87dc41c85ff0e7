package marketplace

import (
	"github.com/google/uuid"

	"github.com/jacentio/storefront/store"
)

// Entity type names. They are the first segment of every key.
const (
	TypeUser            = "user"
	TypeProductCategory = "product_category"
	TypeBrand           = "brand"
	TypeProduct         = "product"
	TypeShipping        = "shipping"
	TypeAuditLog        = "audit_log"
	TypeCustomer        = "customer"
	TypeAddress         = "address"
	TypePaymentMethod   = "payment_method"
	TypeOrder           = "order"
	TypeCart            = "cart"
	TypeWishlist        = "wishlist"
)

// Index names.
const (
	IndexByUser   = "user"
	IndexByBrand  = "brand"
	IndexByOrder  = "order"
	IndexByTarget = "target"
)

// NewID returns a new time-ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var (
	UserSchema = store.Schema[User]{
		Type: TypeUser,
		ID:   func(u User) string { return u.ID },
	}

	ProductCategorySchema = store.Schema[ProductCategory]{
		Type: TypeProductCategory,
		ID:   func(c ProductCategory) string { return c.ID },
	}

	BrandSchema = store.Schema[BrandProfile]{
		Type: TypeBrand,
		ID:   func(b BrandProfile) string { return b.ID },
		Indexes: []store.Index[BrandProfile]{
			{Name: IndexByUser, Value: func(b BrandProfile) string { return b.UserID }},
		},
	}

	ProductSchema = store.Schema[Product]{
		Type: TypeProduct,
		ID:   func(p Product) string { return p.ID },
		Indexes: []store.Index[Product]{
			{Name: IndexByBrand, Value: func(p Product) string { return p.BrandID }},
		},
	}

	ShippingSchema = store.Schema[Shipping]{
		Type: TypeShipping,
		ID:   func(s Shipping) string { return s.ID },
		Indexes: []store.Index[Shipping]{
			{Name: IndexByOrder, Value: func(s Shipping) string { return s.OrderID }},
		},
	}

	AuditLogSchema = store.Schema[AuditLog]{
		Type: TypeAuditLog,
		ID:   func(a AuditLog) string { return a.ID },
		Indexes: []store.Index[AuditLog]{
			{Name: IndexByUser, Value: func(a AuditLog) string { return a.UserID }},
			{Name: IndexByTarget, Value: func(a AuditLog) string { return a.TargetID }},
		},
	}

	// A customer profile is keyed by its user.
	CustomerSchema = store.Schema[CustomerProfile]{
		Type: TypeCustomer,
		ID:   func(c CustomerProfile) string { return c.UserID },
	}

	AddressSchema = store.Schema[Address]{
		Type:  TypeAddress,
		ID:    func(a Address) string { return a.ID },
		Owner: func(a Address) string { return a.UserID },
	}

	PaymentMethodSchema = store.Schema[PaymentMethod]{
		Type:  TypePaymentMethod,
		ID:    func(p PaymentMethod) string { return p.ID },
		Owner: func(p PaymentMethod) string { return p.UserID },
	}

	OrderSchema = store.Schema[Order]{
		Type:  TypeOrder,
		ID:    func(o Order) string { return o.ID },
		Owner: func(o Order) string { return o.UserID },
	}
)
