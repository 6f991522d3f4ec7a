package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"inventorysvc/internal/config"
	"inventorysvc/internal/inventory"
	"inventorysvc/internal/platform/kafka"
	"inventorysvc/internal/platform/observability"
	"inventorysvc/internal/storage"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	_ "github.com/go-sql-driver/mysql"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config            *config.Config
	logger            observability.Logger
	tracer            observability.Tracer
	db                *sql.DB
	orderConsumer     kafka.Consumer
	paymentConsumer   kafka.Consumer
	producer          kafka.Producer
	relay             *inventory.Relay
	consumerService   *inventory.ConsumerService
	otelLogShutdown   func(context.Context) error
	otelTraceShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container := &Container{
		config: cfg,
	}

	// Initialize logger
	if err := container.setupLogger(ctx); err != nil {
		return nil, err
	}

	// Setup OpenTelemetry, storage and Kafka
	if err := container.setupObservability(ctx); err != nil {
		return nil, err
	}
	if err := container.setupStorage(ctx); err != nil {
		return nil, err
	}

	container.wireSaga()

	return container, nil
}

// setupLogger initializes the logger with OpenTelemetry integration
func (c *Container) setupLogger(ctx context.Context) error {
	// Start with basic logger
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logging and tracing
func (c *Container) setupObservability(ctx context.Context) error {
	// Setup logging SDK
	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}
	c.otelLogShutdown = otelLogShutdown

	// Setup tracing SDK
	tp, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	c.otelTraceShutdown = otelTraceShutdown

	// Re-initialize logger with OTel bridge
	c.reinitializeLoggerWithOTel()

	// Setup tracer
	c.tracer = otel.Tracer(config.ServiceName)

	// Setup Kafka with the TracerProvider
	if err := c.setupKafka(tp); err != nil {
		return err
	}

	return nil
}

// reinitializeLoggerWithOTel creates a new logger with OpenTelemetry integration
func (c *Container) reinitializeLoggerWithOTel() {
	logProvider := global.GetLoggerProvider()
	instrumentationScopeName := "inventory-service.manual"
	otelZapCore := otelzap.NewCore(instrumentationScopeName,
		otelzap.WithLoggerProvider(logProvider),
	)

	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(consoleEncoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	finalCore := zapcore.NewTee(otelZapCore, consoleCore)
	logger := zap.New(finalCore,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)

	c.logger = logger
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

// setupKafka initializes the inbound consumers and the instrumented producer.
// Consumers stay uninstrumented readers; trace context is extracted manually
// from message headers so spans connect to the producing service.
func (c *Container) setupKafka(tp *sdktrace.TracerProvider) error {
	c.orderConsumer = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{c.config.KafkaBroker},
		Topic:   config.OrderEventsTopic,
		GroupID: config.GroupID,
	})
	c.paymentConsumer = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{c.config.KafkaBroker},
		Topic:   config.PaymentEventsTopic,
		GroupID: config.GroupID,
	})

	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(c.config.KafkaBroker),
		Topic:        config.InventoryEventsTopic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}

	attrs := otelkafka.WithAttributes(
		[]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(config.InventoryEventsTopic),
			attribute.String("messaging.kafka.client_id", config.ServiceName),
		},
	)

	if tp != nil {
		writer, err := otelkafka.NewWriter(baseWriter,
			otelkafka.WithTracerProvider(tp),
			otelkafka.WithPropagator(propagation.TraceContext{}),
			attrs,
		)
		if err != nil {
			return err
		}
		c.producer = writer
		return nil
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithPropagator(propagation.TraceContext{}),
		attrs,
	)
	if err != nil {
		return err
	}
	c.producer = writer

	return nil
}

// setupStorage opens the MySQL pool. The DSN must carry parseTime=true so
// timestamp columns scan into time.Time.
func (c *Container) setupStorage(ctx context.Context) error {
	db, err := sql.Open("mysql", c.config.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	c.db = db
	return nil
}

// wireSaga assembles the saga components on top of the infrastructure.
func (c *Container) wireSaga() {
	store := storage.NewMySQLStore(c.db)
	c.relay = inventory.NewRelay(store, c.producer, c.logger, c.config.MaxPublishAttempts)
	coordinator := inventory.NewCoordinator(store, c.relay, c.logger, c.tracer)
	handler := inventory.NewTriggerHandler(coordinator, c.logger)
	c.consumerService = inventory.NewConsumerService(
		c.orderConsumer,
		c.paymentConsumer,
		handler,
		c.logger,
		c.config.ShardCount,
	)
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	// Close Kafka components
	if c.orderConsumer != nil {
		if err := c.orderConsumer.Close(); err != nil {
			c.logger.Error("Failed to close order events consumer", zap.Error(err))
		}
	}
	if c.paymentConsumer != nil {
		if err := c.paymentConsumer.Close(); err != nil {
			c.logger.Error("Failed to close payment events consumer", zap.Error(err))
		}
	}
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			c.logger.Error("Failed to close producer", zap.Error(err))
		}
	}

	// Close storage
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database pool", zap.Error(err))
		}
	}

	// Shutdown OpenTelemetry
	if c.otelTraceShutdown != nil {
		if err := c.otelTraceShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel tracing", zap.Error(err))
		}
	}

	if c.otelLogShutdown != nil {
		if err := c.otelLogShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel logging", zap.Error(err))
		}
	}

	// Sync logger
	if err := c.logger.Sync(); err != nil {
		// Can't log this error since logger might be closed
		fmt.Printf("Failed to sync logger: %v\n", err)
	}

	c.logger.Info("Infrastructure shutdown complete")
}

// Getters for accessing infrastructure components
func (c *Container) Logger() observability.Logger                { return c.logger }
func (c *Container) Tracer() observability.Tracer                { return c.tracer }
func (c *Container) Config() *config.Config                      { return c.config }
func (c *Container) Relay() *inventory.Relay                     { return c.relay }
func (c *Container) ConsumerService() *inventory.ConsumerService { return c.consumerService }
