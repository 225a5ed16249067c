package domain

// FailureKind — категория отказа операции корзины.
type FailureKind string

const (
	FailureOutOfStock   FailureKind = "out_of_stock"
	FailureAddFailed    FailureKind = "add_failed"
	FailureRemoveFailed FailureKind = "remove_failed"
	FailureUpdateFailed FailureKind = "update_failed"
)

// Тексты уведомлений, которые видит пользователь.
const (
	MessageOutOfStock   = "Requested quantity is out of stock"
	MessageAddFailed    = "Could not add the product"
	MessageRemoveFailed = "Could not remove the product"
	MessageUpdateFailed = "Could not change the product amount"
)

// Notification — одно пользовательское уведомление об отказе.
type Notification struct {
	SessionID string      `json:"session_id,omitempty"`
	Kind      FailureKind `json:"kind"`
	ProductID int64       `json:"product_id"`
	Message   string      `json:"message"`
}

// NewNotification собирает уведомление со стандартным текстом для категории.
func NewNotification(kind FailureKind, productID int64) Notification {
	return Notification{Kind: kind, ProductID: productID, Message: kind.Message()}
}

// Message возвращает стандартный текст уведомления.
func (k FailureKind) Message() string {
	switch k {
	case FailureOutOfStock:
		return MessageOutOfStock
	case FailureAddFailed:
		return MessageAddFailed
	case FailureRemoveFailed:
		return MessageRemoveFailed
	case FailureUpdateFailed:
		return MessageUpdateFailed
	default:
		return string(k)
	}
}

// Err возвращает sentinel-ошибку, соответствующую категории.
func (k FailureKind) Err() error {
	switch k {
	case FailureOutOfStock:
		return ErrOutOfStock
	case FailureAddFailed:
		return ErrAddFailed
	case FailureRemoveFailed:
		return ErrRemoveFailed
	default:
		return ErrUpdateFailed
	}
}
