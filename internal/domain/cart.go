package domain

// CartStorageKey — фиксированный ключ, под которым корзина лежит в PersistentStore.
const CartStorageKey = "@RocketShoes:cart"

// Product описывает витринные данные товара из каталога.
type Product struct {
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
}

// Stock — доступный остаток товара на момент запроса.
type Stock struct {
	ProductID int64 `json:"id"`
	Amount    int   `json:"amount"`
}

// LineItem — позиция корзины: товар и его количество (>= 1).
type LineItem struct {
	Product
	Amount int `json:"amount"`
}

// Subtotal возвращает стоимость позиции.
func (i LineItem) Subtotal() float64 {
	return i.Price * float64(i.Amount)
}

// AmountUpdate задаёт новое количество для позиции корзины.
type AmountUpdate struct {
	ProductID int64 `json:"productId"`
	Amount    int   `json:"amount"`
}

// Cart — упорядоченный список позиций; порядок соответствует первому добавлению.
// Методы With*/Without не изменяют исходный срез и всегда возвращают новый.
type Cart []LineItem

// Index возвращает позицию товара в корзине или -1.
func (c Cart) Index(productID int64) int {
	for i, item := range c {
		if item.ID == productID {
			return i
		}
	}
	return -1
}

// Contains проверяет, есть ли товар в корзине.
func (c Cart) Contains(productID int64) bool {
	return c.Index(productID) >= 0
}

// Item возвращает позицию по идентификатору товара.
func (c Cart) Item(productID int64) (LineItem, bool) {
	idx := c.Index(productID)
	if idx < 0 {
		return LineItem{}, false
	}
	return c[idx], true
}

// Clone возвращает независимую копию корзины.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// WithAppended добавляет новую позицию в конец.
func (c Cart) WithAppended(item LineItem) Cart {
	out := make(Cart, 0, len(c)+1)
	out = append(out, c...)
	return append(out, item)
}

// WithIncremented увеличивает количество товара на единицу.
func (c Cart) WithIncremented(productID int64) Cart {
	out := c.Clone()
	if idx := out.Index(productID); idx >= 0 {
		out[idx].Amount++
	}
	return out
}

// WithAmount заменяет количество товара; позиции других товаров не меняются.
func (c Cart) WithAmount(productID int64, amount int) Cart {
	out := c.Clone()
	if idx := out.Index(productID); idx >= 0 {
		out[idx].Amount = amount
	}
	return out
}

// Without возвращает корзину без указанного товара.
func (c Cart) Without(productID int64) Cart {
	out := make(Cart, 0, len(c))
	for _, item := range c {
		if item.ID != productID {
			out = append(out, item)
		}
	}
	return out
}

// Size — количество различных товаров в корзине.
func (c Cart) Size() int {
	return len(c)
}

// Total — суммарная стоимость корзины.
func (c Cart) Total() float64 {
	var total float64
	for _, item := range c {
		total += item.Subtotal()
	}
	return total
}

// Validate проверяет инварианты корзины: уникальность товаров и amount >= 1.
func (c Cart) Validate() []error {
	var errs []error
	seen := make(map[int64]struct{}, len(c))
	for _, item := range c {
		if _, dup := seen[item.ID]; dup {
			errs = append(errs, ErrDuplicateLineItem)
		}
		seen[item.ID] = struct{}{}
		if item.Amount < 1 {
			errs = append(errs, ErrLineItemAmountInvalid)
		}
	}
	return errs
}

// Subtotal возвращает стоимость позиции товара или 0, если его нет в корзине.
func (c Cart) Subtotal(productID int64) float64 {
	item, ok := c.Item(productID)
	if !ok {
		return 0
	}
	return item.Subtotal()
}
