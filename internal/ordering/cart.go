package ordering

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/repository"
)

type Line struct {
	RestaurantID       string    `json:"restaurantId" validate:"required"`
	ItemID             string    `json:"itemId" validate:"required"`
	DeliveryDate       time.Time `json:"deliveryDate" validate:"required"`
	Quantity           int       `json:"quantity" validate:"min=1,max=100"`
	OptionalAddons     []string  `json:"optionalAddons" validate:"dive,required"`
	RequiredAddons     []string  `json:"requiredAddons" validate:"dive,required"`
	RemovedIngredients []string  `json:"removedIngredients" validate:"dive,required"`
}

type Cart struct {
	Lines          []Line `json:"lines" validate:"required,min=1,max=50,dive"`
	DiscountCodeID string `json:"discountCodeId,omitempty"`
}

// Result holds CheckoutURL when the cart needs payment, Orders otherwise.
type Result struct {
	CheckoutURL string
	Orders      []*repository.Order
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("invalid cart: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return apperr.Validation("invalid cart: %s", strings.Join(msgs, "; "))
}
