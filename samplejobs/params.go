package samplejobs

import (
	"errors"
	"fmt"
	"net/mail"
	"time"
)

// CustomerWelcomeParams is the payload of the customer welcome job.
type CustomerWelcomeParams struct {
	CustomerID   int    `json:"customer_id" msgpack:"customer_id"`
	CustomerName string `json:"customer_name" msgpack:"customer_name"`
	EmailAddress string `json:"email_address" msgpack:"email_address"`

	// SendAccountSetupInfo defaults to true when omitted.
	SendAccountSetupInfo  *bool     `json:"send_account_setup_info,omitempty" msgpack:"send_account_setup_info,omitempty"`
	SubscribeToNewsletter bool      `json:"subscribe_to_newsletter" msgpack:"subscribe_to_newsletter"`
	SignupDate            time.Time `json:"signup_date,omitzero" msgpack:"signup_date"`
}

// Validate implements job.Validator.
func (p CustomerWelcomeParams) Validate() error {
	var errs []error
	if p.CustomerID <= 0 {
		errs = append(errs, errors.New("customer_id must be positive"))
	}
	if p.CustomerName == "" {
		errs = append(errs, errors.New("customer_name is required"))
	}
	if err := validEmail("email_address", p.EmailAddress); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SendsAccountSetupInfo reports the effective setup-info flag.
func (p CustomerWelcomeParams) SendsAccountSetupInfo() bool {
	return p.SendAccountSetupInfo == nil || *p.SendAccountSetupInfo
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID   int     `json:"product_id" msgpack:"product_id"`
	ProductName string  `json:"product_name" msgpack:"product_name"`
	Quantity    int     `json:"quantity" msgpack:"quantity"`
	UnitPrice   float64 `json:"unit_price" msgpack:"unit_price"`
}

// TotalPrice is Quantity times UnitPrice.
func (i OrderItem) TotalPrice() float64 { return float64(i.Quantity) * i.UnitPrice }

// OrderProcessingParams is the payload of the order processing job.
type OrderProcessingParams struct {
	OrderID         int         `json:"order_id" msgpack:"order_id"`
	CustomerID      int         `json:"customer_id" msgpack:"customer_id"`
	CustomerName    string      `json:"customer_name" msgpack:"customer_name"`
	CustomerEmail   string      `json:"customer_email" msgpack:"customer_email"`
	OrderTotal      float64     `json:"order_total" msgpack:"order_total"`
	OrderDate       time.Time   `json:"order_date,omitzero" msgpack:"order_date"`
	Items           []OrderItem `json:"items" msgpack:"items"`
	ShippingAddress string      `json:"shipping_address" msgpack:"shipping_address"`
	PaymentMethod   string      `json:"payment_method" msgpack:"payment_method"`
}

// Validate implements job.Validator.
func (p OrderProcessingParams) Validate() error {
	var errs []error
	if p.OrderID <= 0 {
		errs = append(errs, errors.New("order_id must be positive"))
	}
	if p.OrderTotal < 0 {
		errs = append(errs, errors.New("order_total must not be negative"))
	}
	if err := validEmail("customer_email", p.CustomerEmail); err != nil {
		errs = append(errs, err)
	}
	for i, item := range p.Items {
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("items[%d]: quantity must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// EmailParams is the payload of the email job.
type EmailParams struct {
	To      string `json:"to" msgpack:"to"`
	Subject string `json:"subject" msgpack:"subject"`
	Body    string `json:"body" msgpack:"body"`

	// From defaults to DefaultSender.
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
}

// DefaultSender is used when EmailParams.From is empty.
const DefaultSender = "noreply@example.com"

// Validate implements job.Validator.
func (p EmailParams) Validate() error {
	var errs []error
	if err := validEmail("to", p.To); err != nil {
		errs = append(errs, err)
	}
	if p.Subject == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if p.From != "" {
		if err := validEmail("from", p.From); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sender returns From or DefaultSender.
func (p EmailParams) Sender() string {
	if p.From == "" {
		return DefaultSender
	}
	return p.From
}

// DataProcessingParams is the payload of the data processing job.
type DataProcessingParams struct {
	FilePath       string `json:"file_path" msgpack:"file_path"`
	ProcessingType string `json:"processing_type" msgpack:"processing_type"`
	FileSize       int    `json:"file_size" msgpack:"file_size"`

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int `json:"batch_size,omitempty" msgpack:"batch_size,omitempty"`
}

// DefaultBatchSize is used when DataProcessingParams.BatchSize is zero.
const DefaultBatchSize = 1000

// Validate implements job.Validator.
func (p DataProcessingParams) Validate() error {
	var errs []error
	if p.FilePath == "" {
		errs = append(errs, errors.New("file_path is required"))
	}
	if p.FileSize < 0 {
		errs = append(errs, errors.New("file_size must not be negative"))
	}
	if p.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}
	return errors.Join(errs...)
}

// Batches returns how many batches FileSize splits into.
func (p DataProcessingParams) Batches() int {
	size := p.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	return (p.FileSize + size - 1) / size
}

// ReportParams is the payload of the report generation job.
type ReportParams struct {
	ReportName  string    `json:"report_name" msgpack:"report_name"`
	ReportType  string    `json:"report_type" msgpack:"report_type"`
	StartDate   time.Time `json:"start_date" msgpack:"start_date"`
	EndDate     time.Time `json:"end_date" msgpack:"end_date"`
	RecordCount int       `json:"record_count" msgpack:"record_count"`

	// OutputFormat defaults to "pdf".
	OutputFormat string `json:"output_format,omitempty" msgpack:"output_format,omitempty"`
	OutputPath   string `json:"output_path,omitempty" msgpack:"output_path,omitempty"`
}

// Validate implements job.Validator.
func (p ReportParams) Validate() error {
	var errs []error
	if p.ReportName == "" {
		errs = append(errs, errors.New("report_name is required"))
	}
	if p.EndDate.Before(p.StartDate) {
		errs = append(errs, errors.New("end_date is before start_date"))
	}
	if p.RecordCount < 0 {
		errs = append(errs, errors.New("record_count must not be negative"))
	}
	return errors.Join(errs...)
}

// FileName is the name the report is saved under at generated.
func (p ReportParams) FileName(generated time.Time) string {
	format := p.OutputFormat
	if format == "" {
		format = "pdf"
	}
	return fmt.Sprintf("%s_%s.%s", p.ReportName, generated.UTC().Format("20060102_150405"), format)
}

func validEmail(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
