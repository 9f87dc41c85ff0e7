package marketplace

import "time"

// Roles, statuses and providers.
const (
	RoleCustomer = "customer"
	RoleBrand    = "brand"
	RoleAdmin    = "admin"
	RoleSuper    = "super"

	StatusActive   = "active"
	StatusPending  = "pending"
	StatusInactive = "inactive"

	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderShipped   = "shipped"
	OrderCancelled = "cancelled"
	OrderDelivered = "delivered"

	ShippingPending   = "pending"
	ShippingInTransit = "in_transit"
	ShippingDelivered = "delivered"
	ShippingFailed    = "failed"

	ProviderStripe = "stripe"
	ProviderPix    = "pix"
)

// ActionCascadeDelete is the audit action recorded when children are removed
// because their parent was deleted.
const ActionCascadeDelete = "system_cascade_delete"

// User is an account.
type User struct {
	ID           string     `json:"id" validate:"required"`
	Login        string     `json:"login"`
	Email        string     `json:"email" validate:"omitempty,email"`
	PasswordHash string     `json:"passwordHash"`
	Role         string     `json:"role" validate:"omitempty,oneof=customer brand admin super"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	IsDisabled   bool       `json:"isDisabled,omitempty"`
}

// BrandProfile is the public face of a selling user.
type BrandProfile struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Bio       string    `json:"bio,omitempty"`
	Website   string    `json:"website,omitempty"`
	LogoURL   string    `json:"logoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status" validate:"omitempty,oneof=active pending inactive"`
}

// CustomerProfile is the public face of a buying user. There is at most one
// per user.
type CustomerProfile struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId" validate:"required"`
	DisplayName string         `json:"displayName,omitempty"`
	AvatarURL   string         `json:"avatarUrl,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	Language    string         `json:"language,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Status      string         `json:"status" validate:"omitempty,oneof=active pending inactive"`
}

// ProductImage is one picture of a product.
type ProductImage struct {
	URL      string `json:"url"`
	Alt      string `json:"alt,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Product is an item sold by a brand. Price is in centavos.
type Product struct {
	ID          string         `json:"id" validate:"required"`
	BrandID     string         `json:"brandId" validate:"required"`
	CategoryID  string         `json:"categoryId"`
	Title       string         `json:"title"`
	Price       int            `json:"price" validate:"gte=0"`
	Description string         `json:"description"`
	MainImage   string         `json:"mainImage,omitempty"`
	Images      []ProductImage `json:"images,omitempty"`
	TagIDs      []string       `json:"tagIds,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	// Inventory is nil for unlimited stock.
	Inventory   *int       `json:"inventory,omitempty" validate:"omitempty,gte=0"`
	IsAvailable bool       `json:"isAvailable"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// ProductCategory groups products. Name is localized by language code.
type ProductCategory struct {
	ID    string            `json:"id" validate:"required"`
	Slug  string            `json:"slug,omitempty"`
	Name  map[string]string `json:"name,omitempty"`
	Icon  string            `json:"icon,omitempty"`
	Order int               `json:"order,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

// Order is a placed purchase.
type Order struct {
	ID                string      `json:"id" validate:"required"`
	UserID            string      `json:"userId" validate:"required"`
	Items             []OrderItem `json:"items" validate:"dive"`
	Total             int         `json:"total" validate:"gte=0"`
	PlacedAt          time.Time   `json:"placedAt"`
	Notes             string      `json:"notes,omitempty"`
	Status            string      `json:"status" validate:"omitempty,oneof=pending paid shipped cancelled delivered"`
	ShippingAddressID string      `json:"shippingAddressId"`
	PaymentMethodID   string      `json:"paymentMethodId"`
	CouponID          string      `json:"couponId,omitempty"`
	DiscountAmount    int         `json:"discountAmount,omitempty"`
}

// Address is a postal address of a user.
type Address struct {
	ID        string `json:"id" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Name      string `json:"name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

// PaymentMethod is a stored payment instrument of a user.
type PaymentMethod struct {
	ID         string         `json:"id" validate:"required"`
	UserID     string         `json:"userId" validate:"required"`
	Provider   string         `json:"provider" validate:"omitempty,oneof=stripe pix"`
	Label      string         `json:"label"`
	LastUsedAt *time.Time     `json:"lastUsedAt,omitempty"`
	IsDefault  bool           `json:"isDefault"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ShippingEvent is one status change of a shipment.
type ShippingEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Shipping tracks the delivery of an order.
type Shipping struct {
	ID                string          `json:"id" validate:"required"`
	OrderID           string          `json:"orderId" validate:"required"`
	Carrier           string          `json:"carrier,omitempty" validate:"omitempty,oneof=correios custom manual"`
	TrackingCode      string          `json:"trackingCode,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	Status            string          `json:"status" validate:"omitempty,oneof=pending in_transit delivered failed"`
	LastUpdated       time.Time       `json:"lastUpdated"`
	History           []ShippingEvent `json:"history,omitempty"`
}

// AuditLog records an administrative or system action. UserID is the actor and
// is empty for system actions.
type AuditLog struct {
	ID         string         `json:"id" validate:"required"`
	UserID     string         `json:"userId,omitempty"`
	Action     string         `json:"action" validate:"required"`
	TargetID   string         `json:"targetId,omitempty"`
	TargetType string         `json:"targetType,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CartItem is one line of a cart.
type CartItem struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// WishlistItem is one saved product.
type WishlistItem struct {
	ProductID string    `json:"productId"`
	AddedAt   time.Time `json:"addedAt"`
}
