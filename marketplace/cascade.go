package marketplace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/storefront/store"
)

// relationships lists what is removed when a parent disappears.
//
//	brand -> products of the brand
//	order -> shipments of the order
//	user  -> brands (with their products), customer profile, addresses,
//	         payment methods, orders (with their shipments), cart, wishlist
//
// Audit entries are never purged.
func (m *Marketplace) relationships() *store.Registry {
	r := store.NewRegistry()

	productsOfBrand := store.PurgeQuery(m.Products, func(brandID string) store.Query {
		return store.Query{Index: IndexByBrand, Value: brandID}
	})
	shipmentsOfOrder := store.PurgeQuery(m.Shipping, func(orderID string) store.Query {
		return store.Query{Index: IndexByOrder, Value: orderID}
	})

	r.Register(store.Relationship{ParentType: TypeBrand, ChildType: TypeProduct, Purge: productsOfBrand})
	r.Register(store.Relationship{ParentType: TypeOrder, ChildType: TypeShipping, Purge: shipmentsOfOrder})

	r.Register(store.Relationship{
		ParentType: TypeUser,
		ChildType:  TypeBrand,
		Purge: purgeWithChildren(m.Brands, productsOfBrand, func(userID string) store.Query {
			return store.Query{Index: IndexByUser, Value: userID}
		}),
	})
	r.Register(store.Relationship{ParentType: TypeUser, ChildType: TypeCustomer, Purge: store.PurgeByID(m.Customers)})
	r.Register(store.Relationship{
		ParentType: TypeUser,
		ChildType:  TypeAddress,
		Purge:      store.PurgeQuery(m.Addresses, ownedBy),
	})
	r.Register(store.Relationship{
		ParentType: TypeUser,
		ChildType:  TypePaymentMethod,
		Purge:      store.PurgeQuery(m.PaymentMethods, ownedBy),
	})
	r.Register(store.Relationship{
		ParentType: TypeUser,
		ChildType:  TypeOrder,
		Purge:      purgeWithChildren(m.Orders, shipmentsOfOrder, ownedBy),
	})
	r.Register(store.Relationship{ParentType: TypeUser, ChildType: TypeCart, Purge: store.PurgeList(m.Cart)})
	r.Register(store.Relationship{ParentType: TypeUser, ChildType: TypeWishlist, Purge: store.PurgeList(m.Wishlist)})
	return r
}

func ownedBy(userID string) store.Query {
	return store.Query{Owner: userID}
}

// purgeWithChildren deletes every entity selected by build(parentID) after
// purging its own children, so nothing is left orphaned when no change stream
// runs the next level.
func purgeWithChildren[T any](repo *store.Repository[T], children store.PurgeFunc, build func(string) store.Query) store.PurgeFunc {
	id := repo.Schema().ID
	return func(ctx context.Context, parentID string) (int, error) {
		items, err := repo.All(ctx, build(parentID))
		if err != nil {
			return 0, err
		}
		deleted := 0
		for _, it := range items {
			if _, err := children(ctx, id(it)); err != nil {
				return deleted, err
			}
			if err := repo.Delete(ctx, it); err != nil {
				return deleted, err
			}
			deleted++
		}
		return deleted, nil
	}
}

// Cascade removes the children of a deleted parent and, if anything was
// removed, records a system audit entry. Running it again for the same parent
// finds nothing and records nothing.
func (m *Marketplace) Cascade(ctx context.Context, parentType, parentID string) (map[string]int, error) {
	counts, err := m.Registry().Purge(ctx, parentType, parentID)
	total := 0
	for _, n := range counts {
		total += n
	}
	if err != nil {
		m.logger.Error("cascade delete failed",
			zap.String("parent_type", parentType),
			zap.String("parent_id", parentID),
			zap.Any("purged", counts),
			zap.Error(err),
		)
		return counts, err
	}
	if total == 0 {
		return counts, nil
	}

	metadata := make(map[string]any, len(counts))
	for childType, n := range counts {
		if n > 0 {
			metadata[childType] = n
		}
	}
	if _, err := m.RecordAudit(ctx, AuditLog{
		Action:     ActionCascadeDelete,
		TargetID:   parentID,
		TargetType: parentType,
		Metadata:   metadata,
	}); err != nil {
		return counts, fmt.Errorf("record cascade of %s %s: %w", parentType, parentID, err)
	}

	m.logger.Info("cascade delete completed",
		zap.String("parent_type", parentType),
		zap.String("parent_id", parentID),
		zap.Int("purged", total),
	)
	return counts, nil
}

// DeleteUserCascade deletes a user and everything the user owns without
// waiting for a change stream.
func (m *Marketplace) DeleteUserCascade(ctx context.Context, id string) (map[string]int, error) {
	if err := m.DeleteUser(ctx, id); err != nil {
		return nil, err
	}
	return m.Cascade(ctx, TypeUser, id)
}

// DeleteBrandCascade deletes a brand and its products without waiting for a
// change stream.
func (m *Marketplace) DeleteBrandCascade(ctx context.Context, brandID string) (map[string]int, error) {
	if err := m.DeleteBrand(ctx, brandID); err != nil {
		return nil, err
	}
	return m.Cascade(ctx, TypeBrand, brandID)
}
