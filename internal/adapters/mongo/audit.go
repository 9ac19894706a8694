package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLog appends service observations to the audit_logs collection.
type AuditLog struct {
	coll *mongo.Collection
}

func NewAuditLog(db *mongo.Database) *AuditLog {
	return &AuditLog{coll: db.Collection("audit_logs")}
}

type AuditEntry struct {
	ID        string    `bson:"_id"`
	Metric    string    `bson:"metric"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLog) Append(ctx context.Context, metric string, data map[string]interface{}) error {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Metric:    metric,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		return errors.Wrapf(err, "append %s audit entry", metric)
	}
	return nil
}
