package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName — полное имя gRPC сервиса корзины.
const ServiceName = "cart.v1.CartService"

// Полные имена методов, как их видят interceptors и клиенты.
const (
	MethodGetCart             = "/" + ServiceName + "/GetCart"
	MethodAddProduct          = "/" + ServiceName + "/AddProduct"
	MethodRemoveProduct       = "/" + ServiceName + "/RemoveProduct"
	MethodUpdateProductAmount = "/" + ServiceName + "/UpdateProductAmount"
)

// CartServiceServer — контракт сервиса. Сообщения — well-known типы protobuf:
// идентификатор товара передаётся как Int64Value, корзина и запрос на
// изменение количества как Struct с JSON-формой доменных типов.
type CartServiceServer interface {
	GetCart(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddProduct(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	RemoveProduct(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	UpdateProductAmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// CartServiceDesc описывает сервис для grpc.Server.RegisterService.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCart",
			Handler: unaryHandler(MethodGetCart, func() *emptypb.Empty { return new(emptypb.Empty) },
				CartServiceServer.GetCart),
		},
		{
			MethodName: "AddProduct",
			Handler: unaryHandler(MethodAddProduct, func() *wrapperspb.Int64Value { return new(wrapperspb.Int64Value) },
				CartServiceServer.AddProduct),
		},
		{
			MethodName: "RemoveProduct",
			Handler: unaryHandler(MethodRemoveProduct, func() *wrapperspb.Int64Value { return new(wrapperspb.Int64Value) },
				CartServiceServer.RemoveProduct),
		},
		{
			MethodName: "UpdateProductAmount",
			Handler: unaryHandler(MethodUpdateProductAmount, func() *structpb.Struct { return new(structpb.Struct) },
				CartServiceServer.UpdateProductAmount),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cart/v1/cart_service.proto",
}

// RegisterCartServiceServer регистрирует реализацию на сервере.
func RegisterCartServiceServer(registrar grpc.ServiceRegistrar, srv CartServiceServer) {
	registrar.RegisterService(&CartServiceDesc, srv)
}

func unaryHandler[Req proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(CartServiceServer, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(CartServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(Req))
		})
	}
}

// CartServiceClient — клиент сервиса корзины.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCartServiceClient создаёт клиента поверх соединения.
func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

// GetCart возвращает корзину сессии.
func (c *CartServiceClient) GetCart(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetCart, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AddProduct добавляет единицу товара.
func (c *CartServiceClient) AddProduct(ctx context.Context, productID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodAddProduct, wrapperspb.Int64(productID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveProduct удаляет позицию товара.
func (c *CartServiceClient) RemoveProduct(ctx context.Context, productID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodRemoveProduct, wrapperspb.Int64(productID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProductAmount устанавливает количество товара.
func (c *CartServiceClient) UpdateProductAmount(ctx context.Context, productID int64, amount int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{
		"productId": float64(productID),
		"amount":    float64(amount),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodUpdateProductAmount, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
