package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		_ = godotenv.Load()
	}
}

// TestMongoURI returns the MongoDB URI used by integration tests, or "" when none is configured.
func TestMongoURI() string {
	return os.Getenv("MONGO_URI_TEST")
}

// SetupTestDB connects to the test MongoDB and drops the given collections for a clean state.
// Tests are skipped when MONGO_URI_TEST is unset. Transactions need a replica set.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	uri := TestMongoURI()
	if uri == "" {
		t.Skip("MONGO_URI_TEST not set; skipping MongoDB-backed test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(dbName)
	for _, collection := range collections {
		_ = db.Collection(collection).Drop(ctx)
		// transactions cannot create collections implicitly on older servers
		_ = db.CreateCollection(ctx, collection)
	}
	return db
}
