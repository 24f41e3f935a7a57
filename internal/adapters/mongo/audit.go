package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	OrderNo   string    `bson:"order_no"`
	ShowingID string    `bson:"showing_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, orderNo, showingID string, at time.Time, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New().String(),
		Action:    action,
		OrderNo:   orderNo,
		ShowingID: showingID,
		Timestamp: at,
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

// RecordEvent stores a committed order event.
func (a *AuditLogger) RecordEvent(ctx context.Context, ev orders.Event) error {
	data := map[string]interface{}{
		"status":      string(ev.Status),
		"previous":    string(ev.Previous),
		"attendance":  string(ev.Attendance),
		"seats":       ev.Seats,
		"total":       ev.Total,
		"commission":  ev.Commission,
		"paid_amount": ev.PaidAmount,
		"referrer":    ev.ReferrerCode,
	}
	return a.LogEvent(ctx, ev.Type, ev.OrderNo, ev.ShowingID, ev.OccurredAt, data)
}

// History returns the audit trail of one order, oldest first.
func (a *AuditLogger) History(ctx context.Context, orderNo string) ([]AuditLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := a.coll.Find(ctx, bson.M{"order_no": orderNo}, opts)
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

var _ orders.Auditor = (*AuditLogger)(nil)
