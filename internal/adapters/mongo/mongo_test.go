package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startMongo(t *testing.T) *mongodriver.Database {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("eventledger_test")
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	db := startMongo(t)
	audit := mongo.NewAuditLogger(db, observability.NewNopLogger())

	booking := domain.Booking{ID: uuid.New(), EventID: uuid.New(), UserID: uuid.New(), TotalPrice: 500, Status: domain.StatusPending}
	at := time.Now().UTC().Truncate(time.Millisecond)
	created := domain.BookingChange(domain.ChangeBookingCreated, booking, at)
	booking.Status = domain.StatusConfirmed
	confirmed := domain.BookingChange(domain.ChangeBookingConfirmed, booking, at.Add(time.Second))

	require.NoError(t, audit.AfterCommit(ctx, []domain.Change{confirmed}))
	require.NoError(t, audit.AfterCommit(ctx, []domain.Change{created}))
	require.NoError(t, audit.AfterCommit(ctx, nil))

	logs, err := audit.ForAggregate(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ChangeBookingCreated, logs[0].Action)
	assert.Equal(t, domain.ChangeBookingConfirmed, logs[1].Action)
	assert.Equal(t, booking.UserID.String(), logs[0].UserID)
	assert.Equal(t, booking.EventID.String(), logs[0].EventID)
}

func TestAuditLogEvent(t *testing.T) {
	ctx := context.Background()
	db := startMongo(t)
	audit := mongo.NewAuditLogger(db, observability.NewNopLogger())

	require.NoError(t, audit.LogEvent(ctx, payment.ActionPaymentAnomaly, uuid.Nil, map[string]interface{}{
		"intent_id": "pi_ghost",
		"code":      "booking_not_found",
	}))

	var got mongo.AuditLog
	err := db.Collection("audit_logs").FindOne(ctx, bson.M{"action": payment.ActionPaymentAnomaly}).Decode(&got)
	require.NoError(t, err)
	assert.Equal(t, "pi_ghost", got.Data["intent_id"])
	assert.Equal(t, "booking_not_found", got.Data["code"])
	assert.Empty(t, got.EventID)
	assert.WithinDuration(t, time.Now(), got.Timestamp, time.Minute)
}

func TestCatalogKeepsNewestSnapshot(t *testing.T) {
	ctx := context.Background()
	db := startMongo(t)
	catalog := mongo.NewCatalog(db, observability.NewNopLogger())

	ev := domain.Event{ID: uuid.New(), Title: "Open Air", TicketLimit: 10, TicketsSold: 4, Date: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)}
	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, catalog.PutAvailability(ctx, inventory.AvailabilityOf(ev, at)))

	stale := ev
	stale.TicketsSold = 2
	require.NoError(t, catalog.PutAvailability(ctx, inventory.AvailabilityOf(stale, at.Add(-time.Minute))))

	got, ok, err := catalog.GetAvailability(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev.ID, got.EventID)
	assert.Equal(t, 4, got.TicketsSold)
	assert.Equal(t, 6, got.Remaining)

	_, ok, err = catalog.GetAvailability(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
