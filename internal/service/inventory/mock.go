package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// MockService — конфигурируемая in-memory заглушка склада и каталога
// для тестов и локального запуска без внешнего сервиса.
type MockService struct {
	mu       sync.Mutex
	stock    map[int64]int
	products map[int64]domain.Product

	StockErr   error
	CatalogErr error

	StockCalls   int
	CatalogCalls int
}

// NewMockService возвращает пустой mock: остатки 0, каталог пуст.
func NewMockService() *MockService {
	return &MockService{
		stock:    make(map[int64]int),
		products: make(map[int64]domain.Product),
	}
}

// NewDemoService возвращает mock с небольшим каталогом для локального запуска.
func NewDemoService() *MockService {
	m := NewMockService()
	m.AddProduct(domain.Product{ID: 1, Title: "Tênis de Caminhada Leve Confortável", Price: 179.9, Image: "https://rocketseat-cdn.s3-sa-east-1.amazonaws.com/modulo-redux/tenis1.jpg"}, 3)
	m.AddProduct(domain.Product{ID: 2, Title: "Tênis VR Caminhada Confortável Detalhes Couro Masculino", Price: 139.9, Image: "https://rocketseat-cdn.s3-sa-east-1.amazonaws.com/modulo-redux/tenis2.jpg"}, 5)
	m.AddProduct(domain.Product{ID: 3, Title: "Tênis Adidas Duramo Lite 2.0", Price: 219.9, Image: "https://rocketseat-cdn.s3-sa-east-1.amazonaws.com/modulo-redux/tenis3.jpg"}, 2)
	return m
}

// AddProduct регистрирует товар в каталоге и задаёт его остаток.
func (m *MockService) AddProduct(product domain.Product, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	m.stock[product.ID] = stock
}

// SetStock меняет остаток без изменения каталога.
func (m *MockService) SetStock(productID int64, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = amount
}

// Stock возвращает остаток или заранее настроенную ошибку и считает вызовы.
func (m *MockService) Stock(_ context.Context, productID int64) (domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StockCalls++
	if m.StockErr != nil {
		return domain.Stock{}, m.StockErr
	}
	return domain.Stock{ProductID: productID, Amount: m.stock[productID]}, nil
}

// Product возвращает товар, nil для неизвестного товара, или настроенную ошибку.
func (m *MockService) Product(_ context.Context, productID int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CatalogCalls++
	if m.CatalogErr != nil {
		return nil, m.CatalogErr
	}
	product, ok := m.products[productID]
	if !ok {
		return nil, nil
	}
	return &product, nil
}

// Calls возвращает счётчики вызовов (безопасно для конкурентного доступа).
func (m *MockService) Calls() (stock, catalog int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StockCalls, m.CatalogCalls
}

var (
	_ domain.StockService   = (*MockService)(nil)
	_ domain.CatalogService = (*MockService)(nil)
)
