package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
)

const cartsCollection = "carts"

// FirestoreAdapter stores cloud cart records in the "carts" collection, one
// document per user id.
type FirestoreAdapter struct {
	client *firestore.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{client: client}
}

type cartDoc struct {
	UserID       string        `firestore:"userId"`
	RemoteCartID string        `firestore:"remoteCartId"`
	Items        []cartItemDoc `firestore:"items"`
	ItemCount    int           `firestore:"itemCount"`
	Subtotal     string        `firestore:"subtotal"`
	UpdatedAt    time.Time     `firestore:"updatedAt"`
}

type cartItemDoc struct {
	VariantID string `firestore:"variantId"`
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Price     string `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Image     string `firestore:"image,omitempty"`
	Handle    string `firestore:"handle,omitempty"`
}

func (f *FirestoreAdapter) doc(userID string) *firestore.DocumentRef {
	return f.client.Collection(cartsCollection).Doc(userID)
}

// UpsertCart writes the record inside a transaction, skipping it when the
// stored document is newer.
func (f *FirestoreAdapter) UpsertCart(ctx context.Context, rec domain.CloudCartRecord) error {
	uid := strings.TrimSpace(rec.UserID)
	if uid == "" {
		return domain.ErrMissingID
	}
	ref := f.doc(uid)
	next := cartDocFromRecord(rec)

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			var cur cartDoc
			if err := snap.DataTo(&cur); err != nil {
				return err
			}
			if cur.UpdatedAt.After(next.UpdatedAt) {
				return nil
			}
		}
		return tx.Set(ref, next)
	})
	if err != nil {
		return fmt.Errorf("upsert cloud cart %s: %w", uid, err)
	}
	return nil
}

// GetCart returns (nil, nil) when the user has no document.
func (f *FirestoreAdapter) GetCart(ctx context.Context, userID string) (*domain.CloudCartRecord, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, domain.ErrMissingID
	}

	snap, err := f.doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get cloud cart %s: %w", uid, err)
	}

	var d cartDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode cloud cart %s: %w", uid, err)
	}
	rec, err := d.toRecord()
	if err != nil {
		return nil, fmt.Errorf("decode cloud cart %s: %w", uid, err)
	}
	// the document id is the source of truth
	rec.UserID = uid
	return rec, nil
}

func (f *FirestoreAdapter) Close() error {
	return f.client.Close()
}

// Money is kept as decimal strings so no precision is lost to float64.
func cartDocFromRecord(rec domain.CloudCartRecord) cartDoc {
	d := cartDoc{
		UserID:       rec.UserID,
		RemoteCartID: rec.RemoteCartID,
		Items:        make([]cartItemDoc, 0, len(rec.Items)),
		ItemCount:    rec.ItemCount,
		Subtotal:     rec.Subtotal.String(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
	for _, it := range rec.Items {
		d.Items = append(d.Items, cartItemDoc{
			VariantID: it.VariantID,
			ProductID: it.ProductID,
			Title:     it.Title,
			Price:     it.Price.String(),
			Quantity:  it.Quantity,
			Image:     it.Image,
			Handle:    it.Handle,
		})
	}
	return d
}

func (d cartDoc) toRecord() (*domain.CloudCartRecord, error) {
	rec := &domain.CloudCartRecord{
		UserID:       d.UserID,
		RemoteCartID: d.RemoteCartID,
		ItemCount:    d.ItemCount,
		UpdatedAt:    d.UpdatedAt,
	}
	var err error
	if rec.Subtotal, err = parseMoney(d.Subtotal); err != nil {
		return nil, err
	}
	for _, it := range d.Items {
		price, err := parseMoney(it.Price)
		if err != nil {
			return nil, err
		}
		rec.Items = append(rec.Items, domain.CartItem{
			VariantID: it.VariantID,
			ProductID: it.ProductID,
			Title:     it.Title,
			Price:     price,
			Quantity:  it.Quantity,
			Image:     it.Image,
			Handle:    it.Handle,
		})
	}
	return rec, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount %q: %w", s, err)
	}
	return d, nil
}
