package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Customers interface {
	Customer(ctx context.Context, id int64) (catalog.Customer, error)
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func NewSendGridMailer(apiKey, from string) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is empty")
	}
	if from == "" {
		return nil, errors.New("from address is empty")
	}
	return &SendGridMailer{client: sendgrid.NewSendClient(apiKey), from: from, fromName: "Storefront"}, nil
}

func (s *SendGridMailer) Send(ctx context.Context, m Message) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		m.Subject,
		mail.NewEmail(m.ToName, m.To),
		m.Text,
		m.HTML,
	)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}

// EmailSink mails the order's customer.
type EmailSink struct {
	Customers   Customers
	Mailer      Mailer
	FrontendURL string
	Log         *zap.Logger
}

func (EmailSink) Name() string { return "email" }

func (s EmailSink) Send(ctx context.Context, ev orders.LifecycleEvent) error {
	c, err := s.Customers.Customer(ctx, ev.CustomerID)
	if err != nil {
		return fmt.Errorf("lookup customer %d: %w", ev.CustomerID, err)
	}
	if c.Email == "" {
		return nil
	}
	msg := Render(ev, s.FrontendURL)
	msg.To, msg.ToName = c.Email, c.Name
	if err := s.Mailer.Send(ctx, msg); err != nil {
		return err
	}
	logx.OrNop(s.Log).Info("order e-mail sent",
		zap.String("to", logx.MaskRecipient(c.Email)), zap.String("event", ev.Type),
		zap.Int64("order_id", ev.OrderID))
	return nil
}

// Render builds the customer-facing text for ev. An empty frontendURL omits
// the order link.
func Render(ev orders.LifecycleEvent, frontendURL string) Message {
	var subject string
	var lines []string
	total := ev.TotalAmount + " " + ev.Currency

	switch ev.Type {
	case orders.EventOrderCreated:
		subject = fmt.Sprintf("Order %s received", ev.OrderNumber)
		lines = append(lines, fmt.Sprintf("We received your order %s for %s.", ev.OrderNumber, total))
	case orders.EventPaymentSucceeded:
		subject = fmt.Sprintf("Payment confirmed for order %s", ev.OrderNumber)
		lines = append(lines, fmt.Sprintf("Your payment of %s was successful.", total))
	case orders.EventPaymentFailed:
		subject = fmt.Sprintf("Payment failed for order %s", ev.OrderNumber)
		lines = append(lines, "Your payment could not be completed. You can retry from your order page.")
		if ev.Reason != "" {
			lines = append(lines, "Reason: "+ev.Reason)
		}
	case orders.EventOrderProcessing:
		subject = fmt.Sprintf("Order %s is being prepared", ev.OrderNumber)
		lines = append(lines, "Your order is being prepared for shipment.")
	case orders.EventOrderShipped:
		subject = fmt.Sprintf("Order %s has shipped", ev.OrderNumber)
		lines = append(lines, "Your order is on its way.")
		if t := ev.Tracking; t != nil {
			lines = append(lines,
				fmt.Sprintf("Tracking number: %s (%s)", t.Number, t.Carrier),
				"Estimated delivery: "+t.EstimatedDelivery)
		}
	case orders.EventOrderDelivered:
		subject = fmt.Sprintf("Order %s delivered", ev.OrderNumber)
		lines = append(lines, "Your order has been delivered. Enjoy!")
	case orders.EventOrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", ev.OrderNumber)
		lines = append(lines, "Your order has been cancelled.")
		if ev.Reason != "" {
			lines = append(lines, "Reason: "+ev.Reason)
		}
		if ev.RefundRequired {
			lines = append(lines, fmt.Sprintf("A refund of %s will be processed.", total))
		}
	default:
		subject = fmt.Sprintf("Update on order %s", ev.OrderNumber)
		lines = append(lines, "Your order status is now "+string(ev.Status)+".")
	}
	if frontendURL != "" {
		lines = append(lines, fmt.Sprintf("View your order: %s/orders/%d", strings.TrimRight(frontendURL, "/"), ev.OrderID))
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(l))
		b.WriteString("</p>")
	}
	return Message{Subject: subject, Text: strings.Join(lines, "\n"), HTML: b.String()}
}
