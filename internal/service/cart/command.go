package cart

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// Apply выполняет команду над корзиной указанной сессии.
// Сессия обязана быть задана: команда без неё не может адресовать корзину.
func (r *Registry) Apply(ctx context.Context, cmd domain.CartCommand) error {
	if cmd.SessionID == "" {
		return domain.ErrInvalidSessionID
	}

	store, _, err := r.Session(ctx, cmd.SessionID)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case domain.CommandAddProduct:
		return store.AddProduct(ctx, cmd.ProductID)
	case domain.CommandRemoveProduct:
		return store.RemoveProduct(ctx, cmd.ProductID)
	case domain.CommandUpdateProductAmount:
		return store.UpdateProductAmount(ctx, domain.AmountUpdate{ProductID: cmd.ProductID, Amount: cmd.Amount})
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Type)
	}
}

var _ domain.CommandApplier = (*Registry)(nil)
