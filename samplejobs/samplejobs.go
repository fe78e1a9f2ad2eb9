package samplejobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/xraph/ferry/engine"
	"github.com/xraph/ferry/job"
)

// Job names. They are registry and log keys, so they never change.
const (
	CustomerWelcomeName  = "customer-welcome"
	OrderProcessingName  = "order-processing"
	EmailName            = "email"
	DataProcessingName   = "data-processing"
	ReportGenerationName = "report-generation"
)

// Set is the collection of sample definitions bound to one logger.
type Set struct {
	CustomerWelcome  *job.Definition[CustomerWelcomeParams]
	OrderProcessing  *job.Definition[OrderProcessingParams]
	Email            *job.Definition[EmailParams]
	DataProcessing   *job.Definition[DataProcessingParams]
	ReportGeneration *job.Definition[ReportParams]

	logger *slog.Logger
	scale  float64
	now    func() time.Time
}

// Option configures a Set.
type Option func(*Set)

// WithDelayScale multiplies every simulated delay. Zero makes the jobs
// instantaneous.
func WithDelayScale(scale float64) Option {
	return func(s *Set) { s.scale = scale }
}

// New builds the sample definitions.
func New(logger *slog.Logger, opts ...Option) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{logger: logger, scale: 1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	s.CustomerWelcome = job.NewAsync(CustomerWelcomeName,
		"Sends welcome email to new customers with account setup information",
		s.customerWelcome, job.WithQueue("default"))
	s.OrderProcessing = job.NewAsync(OrderProcessingName,
		"Processes customer orders, updates inventory, and sends confirmation emails",
		s.orderProcessing, job.WithTimeout(10*time.Minute))
	s.Email = job.NewAsync(EmailName,
		"Sends email notifications to users",
		s.email)
	s.DataProcessing = job.NewAsync(DataProcessingName,
		"Processes data files and updates database records",
		s.dataProcessing, job.WithTimeout(30*time.Minute))
	s.ReportGeneration = job.NewSync(ReportGenerationName,
		"Generates reports and saves them to file system",
		s.reportGeneration, job.WithMaxRetries(1))
	return s
}

// RegisterAll registers every sample definition with e.
func (s *Set) RegisterAll(e *engine.Engine) {
	engine.Register(e, s.CustomerWelcome)
	engine.Register(e, s.OrderProcessing)
	engine.Register(e, s.Email)
	engine.Register(e, s.DataProcessing)
	engine.Register(e, s.ReportGeneration)
}

// pause waits d (scaled) or until ctx is done.
func (s *Set) pause(ctx context.Context, d time.Duration) error {
	d = time.Duration(float64(d) * s.scale)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Set) customerWelcome(ctx context.Context, invocationID string, p CustomerWelcomeParams) error {
	log := s.logger.With(
		slog.String("invocation_id", invocationID),
		slog.Int("customer_id", p.CustomerID),
	)
	log.Info("processing welcome email",
		slog.String("customer_name", p.CustomerName),
		slog.String("email_address", p.EmailAddress),
	)

	if err := s.pause(ctx, 3*time.Second); err != nil {
		return err
	}
	log.Info("welcome email sent")

	if p.SendsAccountSetupInfo() {
		if err := s.pause(ctx, time.Second); err != nil {
			return err
		}
		log.Info("account setup information sent")
	}
	if p.SubscribeToNewsletter {
		if err := s.pause(ctx, 500*time.Millisecond); err != nil {
			return err
		}
		log.Info("customer subscribed to newsletter")
	}
	return nil
}

func (s *Set) orderProcessing(ctx context.Context, invocationID string, p OrderProcessingParams) error {
	log := s.logger.With(
		slog.String("invocation_id", invocationID),
		slog.Int("order_id", p.OrderID),
	)
	log.Info("processing order",
		slog.String("customer_name", p.CustomerName),
		slog.Float64("order_total", p.OrderTotal),
		slog.Int("items", len(p.Items)),
	)

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"validate", func(ctx context.Context) error { return s.pause(ctx, time.Second) }},
		{"charge payment", func(ctx context.Context) error { return s.pause(ctx, 2*time.Second) }},
		{"reserve inventory", func(ctx context.Context) error {
			for _, item := range p.Items {
				log.Debug("reducing inventory",
					slog.String("product", item.ProductName),
					slog.Int("quantity", item.Quantity),
				)
				if err := s.pause(ctx, 200*time.Millisecond); err != nil {
					return err
				}
			}
			return nil
		}},
		{"send confirmation", func(ctx context.Context) error { return s.pause(ctx, 1500*time.Millisecond) }},
		{"schedule follow-up", func(ctx context.Context) error { return s.pause(ctx, 500*time.Millisecond) }},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("order %d: %s: %w", p.OrderID, step.name, err)
		}
		log.Info("order step completed", slog.String("step", step.name))
	}

	log.Info("order processed", slog.String("customer_email", p.CustomerEmail))
	return nil
}

func (s *Set) email(ctx context.Context, invocationID string, p EmailParams) error {
	if err := s.pause(ctx, 2*time.Second); err != nil {
		return err
	}
	s.logger.Info("email sent",
		slog.String("invocation_id", invocationID),
		slog.String("from", p.Sender()),
		slog.String("to", p.To),
		slog.String("subject", p.Subject),
	)
	return nil
}

func (s *Set) dataProcessing(ctx context.Context, invocationID string, p DataProcessingParams) error {
	log := s.logger.With(
		slog.String("invocation_id", invocationID),
		slog.String("file_path", p.FilePath),
	)
	batches := p.Batches()
	log.Info("processing data file",
		slog.String("processing_type", p.ProcessingType),
		slog.Int("batches", batches),
	)

	// One millisecond per kilobyte, capped at ten seconds overall.
	total := min(time.Duration(p.FileSize/1000)*time.Millisecond, 10*time.Second)
	perBatch := time.Duration(0)
	if batches > 0 {
		perBatch = total / time.Duration(batches)
	}
	for i := range batches {
		if err := s.pause(ctx, perBatch); err != nil {
			return fmt.Errorf("batch %d of %d: %w", i+1, batches, err)
		}
	}

	log.Info("data file processed",
		slog.Int("bytes", p.FileSize),
		slog.Int("records_updated", p.FileSize/100),
	)
	return nil
}

func (s *Set) reportGeneration(invocationID string, p ReportParams) error {
	log := s.logger.With(
		slog.String("invocation_id", invocationID),
		slog.String("report_name", p.ReportName),
	)
	log.Info("generating report",
		slog.String("report_type", p.ReportType),
		slog.String("from", p.StartDate.Format(time.DateOnly)),
		slog.String("to", p.EndDate.Format(time.DateOnly)),
	)

	work := min(time.Duration(p.RecordCount/100)*time.Millisecond, 5*time.Second)
	time.Sleep(time.Duration(float64(work) * s.scale))

	name := p.FileName(s.now())
	if p.OutputPath != "" {
		name = filepath.Join(p.OutputPath, name)
	}
	log.Info("report saved",
		slog.String("file", name),
		slog.Int("records", p.RecordCount),
	)
	return nil
}
