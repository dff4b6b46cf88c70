package integration

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Dhanush010/Syncscribe/broker"
)

// The stack under test runs with store.type=mongo, redis enabled and
// broker.type=redis, all at their default addresses.
const (
	wsHost          = "localhost:8080"
	redisAddr       = "localhost:6379"
	mongoURI        = "mongodb://localhost:27017"
	mongoDatabase   = "realtimenotes"
	activityChannel = "syncscribe:activity"
	testTimeout     = 15 * time.Second
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func seedDocument(ctx context.Context, t *testing.T, content string) string {
	t.Helper()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(getEnv("MONGO_URL", mongoURI)))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	id := primitive.NewObjectID()
	docs := client.Database(mongoDatabase).Collection("documents")
	_, err = docs.InsertOne(ctx, bson.M{"_id": id, "title": "integration", "content": content, "updatedAt": time.Now()})
	require.NoError(t, err)
	t.Cleanup(func() { docs.DeleteOne(context.Background(), bson.M{"_id": id}) })
	return id.Hex()
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: getEnv("WS_HOST", wsHost), Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err, "Failed to connect to WebSocket server")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		if m["type"] == want {
			return m
		}
	}
}

func TestE2ECollaborationFlow(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	docID := seedDocument(ctx, t, `{"ops":[{"insert":"seeded\n"}]}`)

	redisClient := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDRESS", redisAddr)})
	require.NoError(t, redisClient.Ping(ctx).Err(), "Failed to connect to Redis")
	defer redisClient.Close()
	activity, err := broker.NewRedisBroker(redisClient).Subscribe(ctx, activityChannel)
	require.NoError(t, err)

	alice := dial(t)
	bob := dial(t)
	readType(t, alice, "ASSIGN_ID")
	readType(t, bob, "ASSIGN_ID")

	join := map[string]string{"type": "JOIN_DOC", "docId": docID}
	require.NoError(t, alice.WriteJSON(join))
	sync := readType(t, alice, "DOC_SYNC")
	assert.Equal(t, "delta", sync["format"])
	content, _ := json.Marshal(sync["content"])
	assert.JSONEq(t, `{"ops":[{"insert":"seeded\n"}]}`, string(content))

	require.NoError(t, bob.WriteJSON(join))
	list := readType(t, bob, "USER_LIST")
	assert.EqualValues(t, 2, list["count"])

	update := map[string]any{"type": "UPDATE_DOC", "docId": docID, "delta": map[string]any{"ops": []any{map[string]any{"insert": "!"}}}}
	require.NoError(t, alice.WriteJSON(update))
	relayed := readType(t, bob, "DOC_UPDATE")
	assert.Equal(t, docID, relayed["docId"])

	// join, join, edit in publish order
	var kinds []string
	for len(kinds) < 3 {
		select {
		case m := <-activity:
			if m.DocumentID == docID {
				kinds = append(kinds, m.Kind)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for activity, got %v", kinds)
		}
	}
	assert.Equal(t, []string{broker.KindJoin, broker.KindJoin, broker.KindEdit}, kinds)

	require.NoError(t, alice.Close())
	list = readType(t, bob, "USER_LIST")
	assert.EqualValues(t, 1, list["count"])
}
