package domain

import "errors"

var (
	// ErrOutOfStock — запрошенное количество превышает доступный остаток.
	ErrOutOfStock = errors.New("requested amount is out of stock")
	// ErrAddFailed — товар не удалось добавить (нет в каталоге или ошибка внешнего сервиса).
	ErrAddFailed = errors.New("failed to add product to cart")
	// ErrRemoveFailed — удаляемого товара нет в корзине.
	ErrRemoveFailed = errors.New("failed to remove product from cart")
	// ErrUpdateFailed — не удалось изменить количество (ошибка внешнего сервиса).
	ErrUpdateFailed = errors.New("failed to update product amount")

	// ErrKeyNotFound возвращается PersistentStore, если значения под ключом нет.
	ErrKeyNotFound = errors.New("key not found")
	// ErrProductNotFound — каталог не знает такого товара.
	ErrProductNotFound = errors.New("product not found")
	// ErrInventoryTemporary — временная ошибка склада/каталога, можно повторить запрос.
	ErrInventoryTemporary = errors.New("inventory temporary error")
	// ErrCircuitOpen — запросы к складу временно заблокированы circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Ошибка дублирования товара в корзине.
	ErrDuplicateLineItem = errors.New("cart contains duplicate product")
	// Ошибка некорректного количества в позиции (< 1).
	ErrLineItemAmountInvalid = errors.New("line item amount must be at least 1")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsOutOfStock проверяет, является ли ошибка нехваткой остатка.
func IsOutOfStock(err error) bool {
	return errors.Is(err, ErrOutOfStock)
}

// IsCartFailure проверяет, относится ли ошибка к одной из категорий отказа операций корзины.
func IsCartFailure(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrAddFailed) ||
		errors.Is(err, ErrRemoveFailed) ||
		errors.Is(err, ErrUpdateFailed)
}

// ErrInvalidSessionID — идентификатор сессии не является UUID.
var ErrInvalidSessionID = errors.New("invalid session id")

// ErrCartUnavailable — сохранённую корзину сессии не удалось прочитать.
// Запрос можно повторить: корзина не загружена и не кэширована.
var ErrCartUnavailable = errors.New("cart is temporarily unavailable")

// ErrUnknownCommand — тип команды не поддерживается.
var ErrUnknownCommand = errors.New("unknown cart command")
