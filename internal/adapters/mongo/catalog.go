package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository keeps descriptive product data that has no bearing on stock.
type CatalogRepository struct {
	coll *mongo.Collection
}

func NewCatalogRepository(db *mongo.Database) *CatalogRepository {
	return &CatalogRepository{coll: db.Collection("products")}
}

type ProductDetails struct {
	ProductID   int64             `bson:"_id" json:"-"`
	Description string            `bson:"description" json:"description,omitempty"`
	Category    string            `bson:"category" json:"category,omitempty"`
	Images      []string          `bson:"images" json:"images,omitempty"`
	Attributes  map[string]string `bson:"attributes" json:"attributes,omitempty"`
	UpdatedAt   time.Time         `bson:"updated_at" json:"updated_at"`
}

// GetDetails returns nil when the product has no catalog entry.
func (c *CatalogRepository) GetDetails(ctx context.Context, productID int64) (*ProductDetails, error) {
	var details ProductDetails
	err := c.coll.FindOne(ctx, bson.M{"_id": productID}).Decode(&details)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get catalog details of product %d", productID)
	}
	return &details, nil
}

func (c *CatalogRepository) UpsertDetails(ctx context.Context, details ProductDetails) error {
	details.UpdatedAt = time.Now().UTC()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": details.ProductID}, details, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "upsert catalog details of product %d", details.ProductID)
	}
	return nil
}
