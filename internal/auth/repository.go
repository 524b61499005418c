package auth

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// OperatorRepository keeps operators in the "operators" collection. The email
// index created at startup is unique.
type OperatorRepository struct {
	collection *mongo.Collection
}

func NewOperatorRepository(db *mongo.Database) *OperatorRepository {
	return &OperatorRepository{collection: db.Collection("operators")}
}

// FindByEmail returns nil without error when no operator has the address.
func (r *OperatorRepository) FindByEmail(ctx context.Context, email string) (*Operator, error) {
	var op Operator
	err := r.collection.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&op)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

func (r *OperatorRepository) CreateOperator(ctx context.Context, op *Operator) error {
	_, err := r.collection.InsertOne(ctx, op)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrOperatorExists
		}
		return err
	}
	return nil
}
