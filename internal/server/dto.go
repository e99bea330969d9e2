package server

import (
	"time"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/ordering"
	"github.com/corpmeals/ordering/internal/repository"
)

type lineRequest struct {
	RestaurantID       string   `json:"restaurantId"`
	ItemID             string   `json:"itemId"`
	DeliveryDate       string   `json:"deliveryDate"`
	Quantity           int      `json:"quantity"`
	OptionalAddons     []string `json:"optionalAddons"`
	RequiredAddons     []string `json:"requiredAddons"`
	RemovedIngredients []string `json:"removedIngredients"`
}

type placeOrderRequest struct {
	Lines          []lineRequest `json:"lines"`
	DiscountCodeID string        `json:"discountCodeId"`
}

func (r placeOrderRequest) toCart() (ordering.Cart, error) {
	cart := ordering.Cart{
		Lines:          make([]ordering.Line, 0, len(r.Lines)),
		DiscountCodeID: r.DiscountCodeID,
	}
	for i, l := range r.Lines {
		date, err := time.Parse(time.DateOnly, l.DeliveryDate)
		if err != nil {
			return ordering.Cart{}, apperr.Validation("line %d: invalid deliveryDate %q, use YYYY-MM-DD", i, l.DeliveryDate)
		}
		cart.Lines = append(cart.Lines, ordering.Line{
			RestaurantID:       l.RestaurantID,
			ItemID:             l.ItemID,
			DeliveryDate:       date,
			Quantity:           l.Quantity,
			OptionalAddons:     l.OptionalAddons,
			RequiredAddons:     l.RequiredAddons,
			RemovedIngredients: l.RemovedIngredients,
		})
	}
	return cart, nil
}

type orderResponse struct {
	ID                 string `json:"id"`
	RestaurantID       string `json:"restaurantId"`
	RestaurantName     string `json:"restaurantName"`
	ItemID             string `json:"itemId"`
	ItemName           string `json:"itemName"`
	DeliveryDate       string `json:"deliveryDate"`
	DeliveryAddress    string `json:"deliveryAddress"`
	Quantity           int    `json:"quantity"`
	Total              string `json:"total"`
	OptionalAddons     string `json:"optionalAddons,omitempty"`
	RequiredAddons     string `json:"requiredAddons,omitempty"`
	RemovedIngredients string `json:"removedIngredients,omitempty"`
	Status             string `json:"status"`
}

type placeOrderResponse struct {
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
	Orders      []orderResponse `json:"orders,omitempty"`
}

func toOrderResponse(o *repository.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		RestaurantID:       o.RestaurantID,
		RestaurantName:     o.RestaurantName,
		ItemID:             o.ItemID,
		ItemName:           o.ItemName,
		DeliveryDate:       o.DeliveryDate.Format(time.DateOnly),
		DeliveryAddress:    o.DeliveryAddress,
		Quantity:           o.Quantity,
		Total:              o.Total.StringFixed(2),
		OptionalAddons:     o.OptionalAddons,
		RequiredAddons:     o.RequiredAddons,
		RemovedIngredients: o.RemovedIngredients,
		Status:             string(o.Status),
	}
}

func toOrderResponses(orders []*repository.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}
