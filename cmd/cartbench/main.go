package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
)

type benchOptions struct {
	RedisAddr  string
	Carts      int
	Workers    int
	Ops        int
	Variants   int
	QueueSize  int
	Persisters int
	LogLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "cartbench",
		Short: "Hammer carts with concurrent mutations and verify persisted state",
		Long: `Runs concurrent AddItem calls against a set of anonymous carts backed by
Redis, drains the persistence queue, then checks that every cart's item
count, subtotal and stored version match the number of mutations.

Example:
  cartbench --redis-addr localhost:6379 --carts 10 --workers 8 --ops 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.RedisAddr, "redis-addr", "localhost:6379", "redis address")
	cmd.Flags().IntVar(&opts.Carts, "carts", 10, "number of carts")
	cmd.Flags().IntVar(&opts.Workers, "workers", 8, "concurrent writers per cart")
	cmd.Flags().IntVar(&opts.Ops, "ops", 50, "mutations per writer")
	cmd.Flags().IntVar(&opts.Variants, "variants", 5, "distinct variants to add")
	cmd.Flags().IntVar(&opts.QueueSize, "queue-size", 100000, "persistence queue capacity")
	cmd.Flags().IntVar(&opts.Persisters, "persisters", 8, "persistence workers")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "info", "log level")

	return cmd
}

// countingQueue tracks drops so a lossy run is reported instead of
// surfacing as a version mismatch.
type countingQueue struct {
	next    service.TaskQueue
	dropped atomic.Int64
}

func (q *countingQueue) Enqueue(task service.PersistTask) bool {
	if !q.next.Enqueue(task) {
		q.dropped.Add(1)
		return false
	}
	return true
}

func benchProduct(variants int) domain.Product {
	p := domain.Product{
		ID:               domain.ToGlobalID("900", domain.TypeProduct),
		Handle:           "bench-crystal",
		Title:            "Bench Crystal",
		Price:            decimal.NewFromInt(10),
		AvailableForSale: true,
	}
	for i := 0; i < variants; i++ {
		p.Variants = append(p.Variants, domain.Variant{
			ID:               domain.ToGlobalID(strconv.Itoa(9000+i), domain.TypeProductVariant),
			Title:            "Size " + strconv.Itoa(i+1),
			Price:            decimal.NewFromInt(int64(10 * (i + 1))),
			AvailableForSale: true,
		})
	}
	return p
}

func runBench(ctx context.Context, opts *benchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Carts < 1 || opts.Workers < 1 || opts.Ops < 1 || opts.Variants < 1 {
		return fmt.Errorf("carts, workers, ops and variants must be positive")
	}

	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	local := storage.NewRedisAdapter(rdb).WithTTL(time.Hour)
	queue := service.NewPersistenceQueue(local, nil, nil, opts.QueueSize, service.WithQueueLogger(logger))
	queue.Start(opts.Persisters)
	counted := &countingQueue{next: queue}

	product := benchProduct(opts.Variants)
	run := uuid.NewString()[:8]

	carts := make([]*service.CartService, opts.Carts)
	for i := range carts {
		id := service.SessionIdentity(fmt.Sprintf("bench-%s-%d", run, i))
		carts[i] = service.NewCartService(id, nil, local, nil, counted, service.WithCartLogger(logger))
	}

	var failed atomic.Int64
	var wg sync.WaitGroup

	fmt.Printf("Starting cart bench: %d carts x %d writers x %d ops...\n", opts.Carts, opts.Workers, opts.Ops)
	start := time.Now()

	for c, cart := range carts {
		for w := 0; w < opts.Workers; w++ {
			wg.Add(1)
			go func(c, w int, cart *service.CartService) {
				defer wg.Done()
				for i := 0; i < opts.Ops; i++ {
					variant := product.Variants[(c+w+i)%len(product.Variants)]
					if _, err := cart.AddItem(product, variant, 1); err != nil {
						failed.Add(1)
						logger.Warn("add item failed", zap.Error(err))
					}
				}
			}(c, w, cart)
		}
	}

	wg.Wait()
	mutated := time.Since(start)

	// Drain pending writes before reading them back
	queue.Close()
	elapsed := time.Since(start)

	want := opts.Workers * opts.Ops
	mismatches := 0
	for c, cart := range carts {
		st := cart.State()
		ns := cart.Identity().Namespace

		stored, err := local.LoadCart(ctx, ns)
		if err != nil {
			return fmt.Errorf("load %s: %w", ns, err)
		}
		if problem := verify(st, stored, want, expectedSubtotal(product, c, opts)); problem != "" {
			mismatches++
			logger.Error("cart mismatch", zap.String("namespace", ns), zap.String("problem", problem))
		}
		if err := local.ClearCart(ctx, ns, int64(want)+1); err != nil {
			logger.Warn("cleanup failed", zap.String("namespace", ns), zap.Error(err))
		}
	}

	total := opts.Carts * want
	fmt.Println("\n--- Results ---")
	fmt.Printf("Mutations:      %d\n", total)
	fmt.Printf("Failed:         %d\n", failed.Load())
	fmt.Printf("Dropped writes: %d\n", counted.dropped.Load())
	fmt.Printf("Mismatched:     %d/%d carts\n", mismatches, opts.Carts)
	fmt.Printf("Mutate time:    %v\n", mutated)
	fmt.Printf("Total time:     %v\n", elapsed)
	fmt.Printf("Throughput:     %.0f mutations/s\n", float64(total)/mutated.Seconds())

	if mismatches > 0 {
		if counted.dropped.Load() > 0 {
			return fmt.Errorf("%d carts mismatched after %d dropped writes, raise --queue-size", mismatches, counted.dropped.Load())
		}
		return fmt.Errorf("%d carts mismatched", mismatches)
	}
	fmt.Println("\nOK: in-memory and stored carts agree")
	return nil
}

// expectedSubtotal replays the variant schedule the writers of cart c follow.
func expectedSubtotal(product domain.Product, c int, opts *benchOptions) decimal.Decimal {
	total := decimal.Zero
	for w := 0; w < opts.Workers; w++ {
		for i := 0; i < opts.Ops; i++ {
			total = total.Add(product.Variants[(c+w+i)%len(product.Variants)].Price)
		}
	}
	return total
}

// verify checks one cart against the expected number of single-unit adds.
func verify(st domain.CartState, stored *domain.StoredCart, want int, subtotal decimal.Decimal) string {
	if got := st.ItemCount(); got != want {
		return fmt.Sprintf("item count %d, want %d", got, want)
	}
	if !st.Subtotal().Equal(subtotal) {
		return fmt.Sprintf("subtotal %s, want %s", st.Subtotal(), subtotal)
	}

	if stored == nil {
		return "nothing stored"
	}
	if stored.Version != int64(want) {
		return fmt.Sprintf("stored version %d, want %d", stored.Version, want)
	}
	storedState := domain.CartState{Items: stored.Items}
	if storedState.ItemCount() != want {
		return fmt.Sprintf("stored item count %d, want %d", storedState.ItemCount(), want)
	}
	if !storedState.Subtotal().Equal(st.Subtotal()) {
		return fmt.Sprintf("stored subtotal %s, want %s", storedState.Subtotal(), st.Subtotal())
	}
	return ""
}
