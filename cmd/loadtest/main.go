package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/cart/internal/service/grpc"
)

type loadMode string

const (
	modeAdd             loadMode = "add"
	modeAddUpdate       loadMode = "add-update"
	modeAddUpdateRemove loadMode = "add-update-remove"
)

type config struct {
	addr            string
	total           int
	totalSet        bool
	duration        time.Duration
	concurrency     int
	connections     int
	timeout         time.Duration
	mode            loadMode
	productID       int64
	amount          int
	allowOutOfStock bool
	outputPath      string
}

// cartClient — методы gRPC клиента корзины, которые использует нагрузка.
type cartClient interface {
	GetCart(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error)
	AddProduct(ctx context.Context, productID int64, opts ...grpc.CallOption) (*structpb.Struct, error)
	RemoveProduct(ctx context.Context, productID int64, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateProductAmount(ctx context.Context, productID int64, amount int, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeAdd), "load mode: add | add-update | add-update-remove")
	fs.Int64Var(&cfg.productID, "product", 1, "product id used by scenarios")
	fs.IntVar(&cfg.amount, "amount", 2, "amount set by update scenarios")
	fs.BoolVar(&cfg.allowOutOfStock, "allow-out-of-stock", false, "count FailedPrecondition (out of stock) as success")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product must be > 0")
	case cfg.amount <= 0:
		return cfg, errors.New("amount must be > 0")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeAdd, modeAddUpdate, modeAddUpdateRemove:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	clients := make([]cartClient, 0, cfg.connections)
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewCartServiceClient(conn))
	}

	result := runLoad(cfg, clients)
	for _, conn := range conns {
		_ = conn.Close()
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad распределяет сценарии по воркерам и собирает отчёт.
func runLoad(cfg config, clients []cartClient) report {
	startedAt := time.Now()
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(client cartClient) {
			defer wg.Done()
			for range jobs {
				_ = runScenario(client, cfg, col)
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario прогоняет один сценарий в новой сессии: каждый сценарий
// работает со своей корзиной и не конкурирует с остальными за блокировку.
func runScenario(client cartClient, cfg config, col *collector) error {
	start := time.Now()
	sessionID := uuid.NewString()

	err := scenarioSteps(client, cfg, sessionID, col)
	code := grpcCode(err)
	col.record(scenarioMetric, time.Since(start), code, err == nil || acceptable(code, cfg))
	if acceptable(code, cfg) {
		return nil
	}
	return err
}

func scenarioSteps(client cartClient, cfg config, sessionID string, col *collector) error {
	if err := call(cfg, sessionID, col, "AddProduct", func(ctx context.Context) error {
		_, err := client.AddProduct(ctx, cfg.productID)
		return err
	}); err != nil {
		return err
	}
	if cfg.mode == modeAdd {
		return nil
	}

	if err := call(cfg, sessionID, col, "UpdateProductAmount", func(ctx context.Context) error {
		_, err := client.UpdateProductAmount(ctx, cfg.productID, cfg.amount)
		return err
	}); err != nil {
		return err
	}
	if cfg.mode == modeAddUpdate {
		return nil
	}

	return call(cfg, sessionID, col, "RemoveProduct", func(ctx context.Context) error {
		_, err := client.RemoveProduct(ctx, cfg.productID)
		return err
	})
}

func call(cfg config, sessionID string, col *collector, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.SessionMetadataKey, sessionID)

	start := time.Now()
	err := fn(ctx)
	code := grpcCode(err)
	col.record(method, time.Since(start), code, err == nil || acceptable(code, cfg))
	return err
}

// acceptable — отказ по остатку считается штатным, если так задано флагом.
func acceptable(code codes.Code, cfg config) bool {
	return code == codes.OK || (cfg.allowOutOfStock && code == codes.FailedPrecondition)
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}
