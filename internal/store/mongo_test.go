package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, mongoFilter(nil))

	assert.Equal(t, bson.M{
		"shipmentId": "S1",
		"status":     bson.M{"$in": []any{"Queued", "Failed"}},
	}, mongoFilter([]Filter{Eq("shipmentId", "S1"), In("status", "Queued", "Failed")}))

	assert.Equal(t, bson.M{"$and": []bson.M{
		{"status": bson.M{"$in": []any{"Queued", "Failed"}}},
		{"status": "Queued"},
		{"shipmentId": "S1"},
	}}, mongoFilter([]Filter{In("status", "Queued", "Failed"), Eq("status", "Queued"), Eq("shipmentId", "S1")}))
}

func TestMongoFilterMatchesMemoryStore(t *testing.T) {
	filters := []Filter{In("status", "Queued", "Failed"), Eq("status", "Failed")}
	f := mongoFilter(filters)
	and, ok := f["$and"].([]bson.M)
	if assert.True(t, ok) {
		assert.Len(t, and, len(filters))
	}

	assert.True(t, matches(map[string]any{"status": "Failed"}, filters))
	assert.False(t, matches(map[string]any{"status": "Queued"}, filters))
}
