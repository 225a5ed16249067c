package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/service/cart"
)

// SessionMetadataKey — ключ metadata с идентификатором сессии (в обе стороны).
const SessionMetadataKey = "x-session-id"

// CartService реализует gRPC API поверх реестра корзин.
type CartService struct {
	registry *cart.Registry
	logger   *log.Entry
}

// NewCartService конструирует сервис.
func NewCartService(registry *cart.Registry, logger *log.Entry) *CartService {
	if logger == nil {
		logger = log.New().WithField("component", "cart-grpc")
	}
	return &CartService{registry: registry, logger: logger}
}

// cartView — JSON-форма ответа с корзиной.
type cartView struct {
	SessionID string      `json:"session_id"`
	Items     domain.Cart `json:"items"`
	Size      int         `json:"size"`
	Total     float64     `json:"total"`
}

// GetCart возвращает корзину сессии.
// Без сессии в metadata отдаётся пустая корзина с новым id.
func (s *CartService) GetCart(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshot, sessionID, err := s.registry.View(ctx, requestedSession(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	s.setSessionHeader(ctx, sessionID)
	return s.render(sessionID, snapshot)
}

// AddProduct добавляет единицу товара.
func (s *CartService) AddProduct(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	productID, err := productIDFrom(req)
	if err != nil {
		return nil, err
	}
	store, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.AddProduct(ctx, productID); err != nil {
		return nil, toStatus(err)
	}
	return s.render(store.SessionID(), store.Snapshot())
}

// RemoveProduct удаляет позицию товара.
func (s *CartService) RemoveProduct(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	productID, err := productIDFrom(req)
	if err != nil {
		return nil, err
	}
	store, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.RemoveProduct(ctx, productID); err != nil {
		return nil, toStatus(err)
	}
	return s.render(store.SessionID(), store.Snapshot())
}

// UpdateProductAmount устанавливает количество товара. Ожидает Struct
// {"productId": <int>, "amount": <int>}.
func (s *CartService) UpdateProductAmount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	update, err := amountUpdateFrom(req)
	if err != nil {
		return nil, err
	}
	store, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.UpdateProductAmount(ctx, update); err != nil {
		return nil, toStatus(err)
	}
	return s.render(store.SessionID(), store.Snapshot())
}

// session находит корзину по metadata и возвращает клиенту выданный id в header.
func (s *CartService) session(ctx context.Context) (*cart.Store, error) {
	store, sessionID, err := s.registry.Session(ctx, requestedSession(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	s.setSessionHeader(ctx, sessionID)
	return store, nil
}

func requestedSession(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(SessionMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (s *CartService) setSessionHeader(ctx context.Context, sessionID string) {
	if err := grpc.SetHeader(ctx, metadata.Pairs(SessionMetadataKey, sessionID)); err != nil {
		s.logger.WithError(err).Debug("failed to set session header")
	}
}

func (s *CartService) render(sessionID string, snapshot domain.Cart) (*structpb.Struct, error) {
	data, err := json.Marshal(cartView{
		SessionID: sessionID,
		Items:     snapshot,
		Size:      snapshot.Size(),
		Total:     snapshot.Total(),
	})
	if err != nil {
		s.logger.WithError(err).Error("failed to encode cart")
		return nil, status.Error(codes.Internal, "failed to encode cart")
	}

	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		s.logger.WithError(err).Error("failed to convert cart")
		return nil, status.Error(codes.Internal, "failed to encode cart")
	}
	return out, nil
}

func productIDFrom(req *wrapperspb.Int64Value) (int64, error) {
	if req == nil || req.GetValue() <= 0 {
		return 0, status.Error(codes.InvalidArgument, "product id must be positive")
	}
	return req.GetValue(), nil
}

func amountUpdateFrom(req *structpb.Struct) (domain.AmountUpdate, error) {
	if req == nil {
		return domain.AmountUpdate{}, status.Error(codes.InvalidArgument, "request is required")
	}
	productID, ok := integerField(req, "productId")
	if !ok || productID <= 0 {
		return domain.AmountUpdate{}, status.Error(codes.InvalidArgument, "productId must be a positive integer")
	}
	amount, ok := integerField(req, "amount")
	if !ok {
		return domain.AmountUpdate{}, status.Error(codes.InvalidArgument, "amount must be an integer")
	}
	return domain.AmountUpdate{ProductID: productID, Amount: int(amount)}, nil
}

func integerField(req *structpb.Struct, name string) (int64, bool) {
	value, ok := req.GetFields()[name]
	if !ok {
		return 0, false
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	n := number.NumberValue
	// Точные целые в float64 ограничены 2^53.
	if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, false
	}
	return int64(n), true
}

// toStatus переводит ошибки корзины в gRPC статусы. Текст статуса — тот же,
// что видит пользователь в уведомлении.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidSessionID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrCartUnavailable):
		return status.Error(codes.Unavailable, domain.ErrCartUnavailable.Error())
	case errors.Is(err, domain.ErrOutOfStock):
		return status.Error(codes.FailedPrecondition, domain.MessageOutOfStock)
	case errors.Is(err, domain.ErrRemoveFailed):
		return status.Error(codes.NotFound, domain.MessageRemoveFailed)
	case errors.Is(err, domain.ErrAddFailed):
		return status.Error(failureCode(err), domain.MessageAddFailed)
	case errors.Is(err, domain.ErrUpdateFailed):
		return status.Error(failureCode(err), domain.MessageUpdateFailed)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func failureCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInventoryTemporary), errors.Is(err, domain.ErrCircuitOpen):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrProductNotFound):
		return codes.NotFound
	default:
		return codes.Aborted
	}
}

var _ CartServiceServer = (*CartService)(nil)
