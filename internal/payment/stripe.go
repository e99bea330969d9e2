package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// minCheckoutLifetime is the shortest expiry Stripe accepts for a checkout session.
const minCheckoutLifetime = 31 * time.Minute

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

func NewStripeProvider(config StripeConfig) *StripeProvider {
	api := &client.API{}
	api.Init(config.SecretKey, nil)
	return &StripeProvider{api: api, config: config}
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.config.SuccessURL),
		CancelURL:  stripe.String(p.config.CancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.PendingKey)

	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		expiresAt := req.ExpiresAt
		if earliest := time.Now().Add(minCheckoutLifetime); expiresAt.Before(earliest) {
			expiresAt = earliest
		}
		params.ExpiresAt = stripe.Int64(expiresAt.Unix())
	}

	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(p.config.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Description),
				},
				UnitAmount: stripe.Int64(toCents(line.Amount)),
			},
			Quantity: stripe.Int64(1),
		})
	}

	params.AddMetadata(MetaPendingKey, req.PendingKey)
	params.AddMetadata(MetaCustomerID, req.CustomerID)
	if req.DiscountCodeID != "" {
		params.AddMetadata(MetaDiscountCodeID, req.DiscountCodeID)
		params.AddMetadata(MetaDiscountAmount, req.DiscountAmount.String())
	}

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntent),
		Amount:        stripe.Int64(toCents(req.Amount)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe refund: %w", err)
	}
	return refund.ID, nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify stripe signature: %w", err)
	}

	out := &Event{ID: event.ID, Type: EventType(event.Type)}
	if !out.Type.IsCheckout() {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session of event %s: %w", event.ID, err)
	}

	out.SessionID = session.ID
	out.AmountTotal = fromCents(session.AmountTotal)
	out.PaymentStatus = PaymentStatus(session.PaymentStatus)
	if session.PaymentIntent != nil {
		out.PaymentIntent = session.PaymentIntent.ID
	}
	if session.Metadata != nil {
		out.PendingKey = session.Metadata[MetaPendingKey]
		out.CustomerID = session.Metadata[MetaCustomerID]
		out.DiscountCodeID = session.Metadata[MetaDiscountCodeID]
		if raw := session.Metadata[MetaDiscountAmount]; raw != "" {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("decode discount amount of event %s: %w", event.ID, err)
			}
			out.DiscountAmount = amount
		}
	}
	return out, nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
