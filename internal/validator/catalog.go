package validator

import (
	"fmt"
	"sort"
	"strings"

	"casinopay/internal/model"
)

// Catalog indexes the configured payment methods by id.
type Catalog struct {
	methods map[string]model.PaymentMethod
}

func NewCatalog(methods []model.PaymentMethod) *Catalog {
	c := &Catalog{methods: make(map[string]model.PaymentMethod, len(methods))}
	for _, m := range methods {
		c.methods[strings.ToLower(m.ID)] = m
	}
	return c
}

func (c *Catalog) Lookup(id string) (model.PaymentMethod, error) {
	m, ok := c.methods[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return model.PaymentMethod{}, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, id)
	}
	return m, nil
}

// ResolveCurrency returns the upper-cased currency to use for method, defaulting
// to the method's first currency when requested is empty.
func (c *Catalog) ResolveCurrency(method model.PaymentMethod, requested string) (string, error) {
	if requested == "" {
		requested = method.DefaultCurrency()
	}
	if !method.SupportsCurrency(requested) {
		return "", fmt.Errorf("%w: %s via %s", ErrUnsupportedCurrency, requested, method.ID)
	}
	return strings.ToUpper(requested), nil
}

// IDs lists the configured method ids in stable order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.methods))
	for id := range c.methods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
