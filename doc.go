// Package busline provides saga-oriented message bus middleware for Go
// services.
//
// Busline sits between a message transport and application code. It
// correlates inbound messages to long-running sagas, persists saga state
// with optimistic concurrency, retries failed deliveries with a bounded
// policy, and matches replies to locally-issued requests.
//
// # Quick Start
//
// Create a bus with the in-memory transport and store for development:
//
//	import (
//	    "github.com/R-Suite/busline"
//	    "github.com/R-Suite/busline/adapters/memory"
//	    memorytransport "github.com/R-Suite/busline/transport/memory"
//	)
//
//	transport := memorytransport.New()
//	store := memory.NewSagaStore()
//	bus := busline.New("orders", transport, store)
//
// For production, use the Kafka transport and the PostgreSQL store:
//
//	import (
//	    "github.com/R-Suite/busline/adapters/postgres"
//	    "github.com/R-Suite/busline/transport/kafka"
//	)
//
//	db, err := postgres.Open(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := postgres.NewSagaStore(db)
//	transport := kafka.New(kafka.WithBrokers("localhost:9092"))
//
// # Defining Messages
//
// Messages are structs that embed MessageBase and name their type:
//
//	type OrderPlaced struct {
//	    busline.MessageBase
//	    OrderID string `json:"orderId"`
//	}
//
//	func (OrderPlaced) MessageType() string { return "OrderPlaced" }
//
// Register message types with the bus so inbound payloads can be
// deserialized:
//
//	bus.RegisterMessages(OrderPlaced{}, PaymentProcessed{})
//
// # Handlers and Sagas
//
// Stateless handlers process individual messages:
//
//	bus.RegisterHandlerFunc("OrderPlaced", func(ctx context.Context, msg busline.Message, cc *busline.ConsumeContext) error {
//	    ...
//	    return nil
//	})
//
// Sagas hold state across messages. A starter registration creates new
// instances, continuation registrations advance existing ones, and a
// correlation mapping tells the bus how to find the instance a message
// belongs to:
//
//	bus.RegisterSaga(busline.SagaRegistration{
//	    SagaType:    "OrderFulfillment",
//	    MessageType: "OrderPlaced",
//	    Role:        busline.RoleStarter,
//	    Factory:     NewOrderFulfillmentSaga,
//	})
//
//	bus.ConfigureMapping("OrderFulfillment", "PaymentProcessed", []string{"orderId"},
//	    func(msg busline.Message) any { return msg.(*PaymentProcessed).OrderID })
//
// # Running
//
// Start consumes from the queue until the context is cancelled:
//
//	if err := bus.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
//
// Failed messages are resubmitted through the transport's retry path up
// to the configured maximum and dead-lettered afterwards with the
// failure recorded in headers.
package busline
