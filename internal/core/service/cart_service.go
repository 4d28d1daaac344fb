package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/port"
)

// CartIdentity scopes a cart. UserID is empty for anonymous sessions, which
// are persisted locally only.
type CartIdentity struct {
	Namespace string
	UserID    string
}

func UserIdentity(userID string) CartIdentity {
	return CartIdentity{Namespace: "user:" + userID, UserID: userID}
}

func SessionIdentity(sessionID string) CartIdentity {
	return CartIdentity{Namespace: "session:" + sessionID}
}

// CartService is the cart state machine for one identity. Every mutation
// assigns the new state under the lock, then schedules persistence on the
// task queue; callers never wait on storage.
type CartService struct {
	identity CartIdentity
	gateway  port.Gateway
	local    port.LocalCartStore
	cloud    port.CloudCartStore
	queue    TaskQueue
	now      Clock
	logger   *zap.Logger

	mu        sync.Mutex
	state     domain.CartState
	version   int64
	stamp     time.Time
	lastOrder *domain.OrderRecord

	// While a restore has failed, nothing the stores hold may be overwritten:
	// changes are kept in memory and folded into the stored cart once a
	// restore succeeds.
	restored       bool
	restorePending bool
	heldChanges    bool
	heldClear      bool

	restoreMu      sync.Mutex
	restoreTimeout time.Duration
}

type CartOption func(*CartService)

func WithCartClock(c Clock) CartOption {
	return func(s *CartService) { s.now = c }
}

func WithCartLogger(l *zap.Logger) CartOption {
	return func(s *CartService) { s.logger = logging.OrNop(l) }
}

func WithCartRestoreTimeout(d time.Duration) CartOption {
	return func(s *CartService) {
		if d > 0 {
			s.restoreTimeout = d
		}
	}
}

// NewCartService builds an empty cart. cloud may be nil.
func NewCartService(identity CartIdentity, gateway port.Gateway, local port.LocalCartStore, cloud port.CloudCartStore, queue TaskQueue, opts ...CartOption) *CartService {
	s := &CartService{
		identity: identity,
		gateway:  gateway,
		local:    local,
		cloud:    cloud,
		queue:    queue,
		now:      systemClock,
		logger:   zap.NewNop(),
		state:    domain.CartState{Status: domain.CartStatusEmpty},

		restoreTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("namespace", identity.Namespace))
	return s
}

func (s *CartService) Identity() CartIdentity { return s.identity }

// State returns a copy of the current cart.
func (s *CartService) State() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *CartService) ItemCount() int {
	return s.State().ItemCount()
}

func (s *CartService) Subtotal() decimal.Decimal {
	return s.State().Subtotal()
}

// Restore loads the stored cart: the local record, then for signed-in users
// the cloud record, keeping whichever was updated last. It runs detached from
// ctx's cancellation under its own timeout. A failed restore is retried on the
// next call; until one succeeds the cart stays usable but its changes are not
// written to the stores.
func (s *CartService) Restore(ctx context.Context) error {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()

	if s.Restored() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.restoreTimeout)
	defer cancel()

	if err := s.restore(ctx); err != nil {
		s.mu.Lock()
		s.restorePending = true
		s.mu.Unlock()
		return fmt.Errorf("restore cart: %w", err)
	}
	return nil
}

// Restored reports whether a restore has succeeded.
func (s *CartService) Restored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// HoldsChanges reports whether the cart has changes that only live in memory
// because the stores could not be read.
func (s *CartService) HoldsChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restorePending && s.heldChanges
}

func (s *CartService) restore(ctx context.Context) error {
	stored, err := s.local.LoadCart(ctx, s.identity.Namespace)
	if err != nil {
		s.logger.Warn("load local cart failed", zap.Error(err))
		return fmt.Errorf("load local cart: %w", err)
	}

	var record *domain.CloudCartRecord
	if s.identity.UserID != "" && s.cloud != nil {
		record, err = s.cloud.GetCart(ctx, s.identity.UserID)
		if err != nil {
			s.logger.Warn("load cloud cart failed", zap.Error(err))
			return fmt.Errorf("load cloud cart: %w", err)
		}
	}

	state, source := ResolveRestore(stored, record)

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored != nil {
		s.version = max(s.version, stored.Version)
		if stored.UpdatedAt.After(s.stamp) {
			s.stamp = stored.UpdatedAt
		}
	}
	if record != nil && record.UpdatedAt.After(s.stamp) {
		s.stamp = record.UpdatedAt
	}

	held, heldClear, current := s.heldChanges, s.heldClear, s.state
	s.restored = true
	s.restorePending = false
	s.heldChanges = false
	s.heldClear = false

	if held {
		if !heldClear {
			current = mergeHeld(state, current)
		}
		s.state = current
		s.commitLocked(nil)
		s.logger.Info("cart restored with held changes", zap.String("source", string(source)), zap.Int("items", len(s.state.Items)))
		return nil
	}

	s.state = state
	switch source {
	case RestoreFromCloud:
		s.commitLocked(nil)
	case RestoreFromLocal:
		if s.identity.UserID != "" && s.cloud != nil && (record == nil || record.UpdatedAt.Before(stored.UpdatedAt)) {
			s.enqueue(PersistTask{Kind: TaskUpsertCloud, Cloud: s.cloudRecordLocked(stored.UpdatedAt)})
		}
	}
	s.logger.Info("cart restored", zap.String("source", string(source)), zap.Int("items", len(state.Items)))
	return nil
}

// mergeHeld adds lines added while the stores were unreadable on top of the
// stored cart. A merged cart no longer matches any remote checkout cart.
func mergeHeld(stored, held domain.CartState) domain.CartState {
	if len(held.Items) == 0 {
		return stored
	}
	merged := domain.CartState{Items: normalizeItems(append(stored.Clone().Items, held.Items...))}
	merged.Status = statusFor(merged)
	return merged
}

type RestoreSource string

const (
	RestoreNone      RestoreSource = "none"
	RestoreFromLocal RestoreSource = "local"
	RestoreFromCloud RestoreSource = "cloud"
)

// ResolveRestore picks the starting cart: last write wins by updated time,
// local wins ties.
func ResolveRestore(local *domain.StoredCart, cloud *domain.CloudCartRecord) (domain.CartState, RestoreSource) {
	useCloud := cloud != nil && (local == nil || cloud.UpdatedAt.After(local.UpdatedAt))

	switch {
	case useCloud:
		st := domain.CartState{Items: normalizeItems(cloud.Items), RemoteCartID: cloud.RemoteCartID}
		st.Status = statusFor(st)
		return st, RestoreFromCloud
	case local != nil:
		st := domain.CartState{
			Items:        normalizeItems(local.Items),
			RemoteCartID: local.RemoteCartID,
			CheckoutURL:  local.CheckoutURL,
		}
		st.Status = statusFor(st)
		return st, RestoreFromLocal
	}
	return domain.CartState{Status: domain.CartStatusEmpty}, RestoreNone
}

// AddItem adds quantity of variant, merging into an existing line.
func (s *CartService) AddItem(product domain.Product, variant domain.Variant, quantity int) (domain.CartState, error) {
	rawID := variant.ID
	if rawID == "" && len(product.Variants) > 0 {
		rawID = product.Variants[0].ID
		variant = product.Variants[0]
	}
	variantID := domain.ToGlobalID(rawID, domain.TypeProductVariant)
	if variantID == "" || (product.ID == "" && product.Handle == "") {
		return s.State(), domain.ErrMissingID
	}
	if quantity < 1 {
		return s.State(), domain.ErrInvalidQuantity
	}

	price := variant.Price
	if price.IsZero() {
		price = product.Price
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if i := next.IndexOf(variantID); i >= 0 {
		next.Items[i].Quantity += quantity
	} else {
		next.Items = append(next.Items, domain.CartItem{
			VariantID: variantID,
			ProductID: domain.ToGlobalID(product.ID, domain.TypeProduct),
			Title:     product.Title,
			Price:     price,
			Quantity:  quantity,
			Image:     product.FirstImage(),
			Handle:    product.Handle,
		})
	}
	next.Status = domain.CartStatusPopulated
	s.state = next

	s.commitLocked(s.remoteSync(domain.ActionAddToCart, map[string]any{
		"lines": []domain.CheckoutLine{{MerchandiseID: variantID, Quantity: quantity}},
	}))
	return s.state.Clone(), nil
}

// UpdateQuantity sets a line's quantity; quantity <= 0 removes the line.
// Unknown variants are a no-op.
func (s *CartService) UpdateQuantity(variantID string, quantity int) (domain.CartState, error) {
	if quantity <= 0 {
		return s.RemoveItem(variantID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.state.IndexOf(variantID)
	if i < 0 {
		return s.state.Clone(), nil
	}

	next := s.state.Clone()
	next.Items[i].Quantity = quantity
	next.Status = domain.CartStatusPopulated
	s.state = next

	s.commitLocked(s.remoteSync(domain.ActionUpdateCart, map[string]any{
		"lines": []domain.CheckoutLine{{MerchandiseID: next.Items[i].VariantID, Quantity: quantity}},
	}))
	return s.state.Clone(), nil
}

// RemoveItem drops a line if present.
func (s *CartService) RemoveItem(variantID string) (domain.CartState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.state.IndexOf(variantID)
	if i < 0 {
		return s.state.Clone(), nil
	}

	next := s.state.Clone()
	removed := next.Items[i].VariantID
	next.Items = append(next.Items[:i], next.Items[i+1:]...)
	next.Status = statusFor(domain.CartState{Items: next.Items})
	s.state = next

	s.commitLocked(s.remoteSync(domain.ActionRemoveFromCart, map[string]any{
		"merchandiseIds": []string{removed},
	}))
	return s.state.Clone(), nil
}

// ClearCart empties the cart and drops the remote checkout reference.
func (s *CartService) ClearCart() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	return s.state.Clone()
}

// CreateCheckout opens a remote cart for the current lines. An empty cart
// fails validation without contacting the backend.
func (s *CartService) CreateCheckout(ctx context.Context) (domain.Checkout, error) {
	s.mu.Lock()
	if len(s.state.Items) == 0 {
		s.mu.Unlock()
		return domain.Checkout{}, domain.ErrEmptyCart
	}
	lines := make([]domain.CheckoutLine, 0, len(s.state.Items))
	for _, it := range s.state.Items {
		lines = append(lines, domain.CheckoutLine{
			MerchandiseID: domain.ToGlobalID(it.VariantID, domain.TypeProductVariant),
			Quantity:      it.Quantity,
		})
	}
	version := s.version
	s.mu.Unlock()

	resp, err := s.gateway.Call(ctx, domain.ActionCreateCart, map[string]any{"lines": lines})
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("create checkout: %w", err)
	}

	checkout := domain.Checkout{
		CartID:      firstResult(resp, "cart.id", "cartId", "id"),
		CheckoutURL: firstResult(resp, "cart.checkoutUrl", "checkoutUrl", "cart.checkout_url", "checkout_url"),
	}
	if checkout.CartID == "" || checkout.CheckoutURL == "" {
		return domain.Checkout{}, &domain.GatewayError{
			Action:   domain.ActionCreateCart,
			Attempts: 1,
			Message:  "response missing cart id or checkout url",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// changed while the call was in flight: the remote cart would not match
	if s.version != version {
		if len(s.state.Items) == 0 {
			return domain.Checkout{}, domain.ErrEmptyCart
		}
		s.logger.Info("cart changed during checkout", zap.String("cart_id", checkout.CartID))
		return domain.Checkout{}, domain.ErrCartChanged
	}
	next := s.state.Clone()
	next.RemoteCartID = checkout.CartID
	next.CheckoutURL = checkout.CheckoutURL
	next.Status = domain.CartStatusCheckoutPending
	s.state = next
	s.commitLocked(nil)

	s.logger.Info("checkout created", zap.String("cart_id", checkout.CartID), zap.Int("lines", len(lines)))
	return checkout, nil
}

// CompleteCheckout records the order and resets the cart to empty.
func (s *CartService) CompleteCheckout(orderID, orderNumber string) (domain.OrderRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderRecord{}, fmt.Errorf("%w: missing order id", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != domain.CartStatusCheckoutPending {
		s.logger.Warn("completing checkout without a pending checkout", zap.String("status", string(s.state.Status)))
	}

	order := domain.OrderRecord{
		OrderID:     orderID,
		OrderNumber: strings.TrimSpace(orderNumber),
		CartID:      s.state.RemoteCartID,
		CompletedAt: s.now(),
	}
	s.state.Status = domain.CartStatusCompleted
	s.lastOrder = &order
	s.enqueue(PersistTask{Kind: TaskSaveLastOrder, Order: &order})

	s.clearLocked()
	s.logger.Info("checkout completed", zap.String("order_id", orderID))
	return order, nil
}

// LastOrder returns the last completed order, or nil.
func (s *CartService) LastOrder(ctx context.Context) (*domain.OrderRecord, error) {
	s.mu.Lock()
	if s.lastOrder != nil {
		o := *s.lastOrder
		s.mu.Unlock()
		return &o, nil
	}
	s.mu.Unlock()
	return s.local.LastOrder(ctx, s.identity.Namespace)
}

// RemoteCart fetches the backend's view of the checkout cart and refreshes
// the cached checkout URL.
func (s *CartService) RemoteCart(ctx context.Context) (domain.RemoteCart, error) {
	s.mu.Lock()
	cartID := s.state.RemoteCartID
	s.mu.Unlock()
	if cartID == "" {
		return domain.RemoteCart{}, fmt.Errorf("%w: no remote cart", domain.ErrValidation)
	}

	resp, err := s.gateway.Call(ctx, domain.ActionGetCart, map[string]string{"cartId": cartID})
	if err != nil {
		return domain.RemoteCart{}, fmt.Errorf("get remote cart: %w", err)
	}

	remote := domain.RemoteCart{
		ID:          firstResult(resp, "cart.id", "id"),
		CheckoutURL: firstResult(resp, "cart.checkoutUrl", "checkoutUrl"),
	}
	if remote.ID == "" {
		remote.ID = cartID
	}
	for _, n := range connectionNodes(resp.Get("cart.lines")) {
		remote.Lines = append(remote.Lines, domain.CheckoutLine{
			MerchandiseID: firstString(n, "merchandise.id", "merchandiseId"),
			Quantity:      int(n.Get("quantity").Int()),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.RemoteCartID == remote.ID && remote.CheckoutURL != "" && remote.CheckoutURL != s.state.CheckoutURL {
		next := s.state.Clone()
		next.CheckoutURL = remote.CheckoutURL
		s.state = next
		s.commitLocked(nil)
	}
	return remote, nil
}

func (s *CartService) clearLocked() {
	s.state = domain.CartState{Status: domain.CartStatusEmpty}
	s.version++
	now := s.nextStampLocked()

	if s.restorePending {
		s.heldChanges = true
		s.heldClear = true
		return
	}

	s.enqueue(PersistTask{Kind: TaskClearLocal, Version: s.version})
	if s.identity.UserID != "" {
		s.enqueue(PersistTask{Kind: TaskUpsertCloud, Cloud: s.cloudRecordLocked(now)})
	}
}

// commitLocked schedules persistence of the already-assigned state.
func (s *CartService) commitLocked(remote *RemoteSync) {
	s.version++
	now := s.nextStampLocked()

	if s.restorePending {
		s.heldChanges = true
		if remote != nil {
			s.enqueue(PersistTask{Kind: TaskSyncRemote, Remote: remote})
		}
		return
	}

	s.enqueue(PersistTask{
		Kind: TaskSaveLocal,
		Cart: &domain.StoredCart{
			Items:        append([]domain.CartItem(nil), s.state.Items...),
			RemoteCartID: s.state.RemoteCartID,
			CheckoutURL:  s.state.CheckoutURL,
			Version:      s.version,
			UpdatedAt:    now,
		},
	})
	if s.identity.UserID != "" {
		s.enqueue(PersistTask{Kind: TaskUpsertCloud, Cloud: s.cloudRecordLocked(now)})
	}
	if remote != nil {
		s.enqueue(PersistTask{Kind: TaskSyncRemote, Remote: remote})
	}
}

// remoteSync builds a backend cart update, or nil when no remote cart exists.
// Must be called with the lock held.
func (s *CartService) remoteSync(action domain.Action, payload map[string]any) *RemoteSync {
	if s.state.RemoteCartID == "" {
		return nil
	}
	payload["cartId"] = s.state.RemoteCartID
	return &RemoteSync{Action: action, Payload: payload}
}

func (s *CartService) cloudRecordLocked(at time.Time) *domain.CloudCartRecord {
	return &domain.CloudCartRecord{
		UserID:       s.identity.UserID,
		RemoteCartID: s.state.RemoteCartID,
		Items:        append([]domain.CartItem(nil), s.state.Items...),
		ItemCount:    s.state.ItemCount(),
		Subtotal:     s.state.Subtotal(),
		UpdatedAt:    at,
	}
}

// nextStampLocked returns a strictly increasing updated time at millisecond
// precision, which is what the stores keep.
func (s *CartService) nextStampLocked() time.Time {
	now := s.now().Truncate(time.Millisecond)
	if !now.After(s.stamp) {
		now = s.stamp.Add(time.Millisecond)
	}
	s.stamp = now
	return now
}

func (s *CartService) enqueue(task PersistTask) {
	task.Namespace = s.identity.Namespace
	if !s.queue.Enqueue(task) {
		s.logger.Warn("persistence task not queued", zap.String("kind", string(task.Kind)))
	}
}

func statusFor(st domain.CartState) domain.CartStatus {
	switch {
	case len(st.Items) == 0:
		return domain.CartStatusEmpty
	case st.CheckoutURL != "":
		return domain.CartStatusCheckoutPending
	}
	return domain.CartStatusPopulated
}

// normalizeItems canonicalizes ids, merges duplicate variants and drops
// non-positive quantities from stored data.
func normalizeItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	index := map[string]int{}
	for _, it := range items {
		it.VariantID = domain.ToGlobalID(it.VariantID, domain.TypeProductVariant)
		if it.VariantID == "" || it.Quantity < 1 {
			continue
		}
		if i, ok := index[it.VariantID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.VariantID] = len(out)
		out = append(out, it)
	}
	return out
}

func firstResult(resp domain.Response, paths ...string) string {
	return firstString(gjson.ParseBytes(resp.Body), paths...)
}
