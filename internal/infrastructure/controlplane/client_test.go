package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/circuitbreaker"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := DefaultOptions(srv.URL)
	opts.Retry = retry.Fixed(3, time.Millisecond)
	return NewClient(opts, zap.NewNop()), srv
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestClient_JoinByCode(t *testing.T) {
	router := testRouter()
	router.POST("/rooms/join", func(c *gin.Context) {
		var req struct {
			Code   string `json:"code"`
			UserID string `json:"user_id"`
		}
		require.NoError(t, c.ShouldBindJSON(&req))
		assert.Equal(t, "CODE-1", req.Code)
		assert.Equal(t, "Bearer t-1", c.GetHeader("Authorization"))

		c.JSON(http.StatusOK, ports.JoinResult{
			Room:         ports.RoomInfo{ID: "room-1", Code: req.Code, Type: "main"},
			MembershipID: "member-1",
			StreamID:     "stream-alice",
		})
	})

	client, _ := newTestClient(t, router)
	client.SetToken("t-1")

	result, err := client.JoinByCode(context.Background(), "CODE-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "room-1", string(result.Room.ID))
	assert.Equal(t, "member-1", string(result.MembershipID))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	router := testRouter()
	router.GET("/rooms/room-1", func(c *gin.Context) {
		if calls.Add(1) < 3 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transient"})
			return
		}
		c.JSON(http.StatusOK, ports.RoomInfo{ID: "room-1", Type: "main"})
	})

	client, _ := newTestClient(t, router)
	info, err := client.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", string(info.ID))
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_ClientErrorsAreTerminal(t *testing.T) {
	var calls atomic.Int64
	router := testRouter()
	router.GET("/rooms/missing", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	})

	client, _ := newTestClient(t, router)
	_, err := client.GetRoom(context.Background(), "missing")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
	assert.Equal(t, int64(1), calls.Load(), "a 404 must not be retried")
}

func TestClient_UnauthorizedMapsToAuthError(t *testing.T) {
	router := testRouter()
	router.POST("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
	})

	client, _ := newTestClient(t, router)
	_, err := client.CreateRoom(context.Background(), "math")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeAuthentication, appErr.Code)
	assert.Contains(t, appErr.Message, "token expired")
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	router := testRouter()
	router.GET("/rooms/room-1", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "down"})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	opts := DefaultOptions(srv.URL)
	opts.Retry = retry.Fixed(1, time.Millisecond)
	opts.Breaker = circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	}
	client := NewClient(opts, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := client.GetRoom(context.Background(), "room-1")
		require.Error(t, err)
	}

	_, err := client.GetRoom(context.Background(), "room-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestClient_SubRoomLifecycle(t *testing.T) {
	router := testRouter()
	router.POST("/rooms/room-1/subrooms", func(c *gin.Context) {
		var opts ports.SubRoomOptions
		require.NoError(t, c.ShouldBindJSON(&opts))
		c.JSON(http.StatusOK, ports.SubRoomInfo{
			RoomInfo:        ports.RoomInfo{ID: "sub-1", Name: opts.Name, Type: "breakout"},
			ParentID:        "room-1",
			MaxParticipants: opts.MaxParticipants,
			DurationMinutes: opts.DurationMinutes,
		})
	})
	var deleted atomic.Int64
	router.DELETE("/rooms/room-1/subrooms/sub-1", func(c *gin.Context) {
		deleted.Add(1)
		c.Status(http.StatusNoContent)
	})

	client, _ := newTestClient(t, router)
	info, err := client.CreateSubRoom(context.Background(), "room-1",
		ports.SubRoomOptions{Name: "group-a", MaxParticipants: 4, DurationMinutes: 15})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", string(info.ID))
	assert.Equal(t, 4, info.MaxParticipants)

	require.NoError(t, client.DeleteSubRoom(context.Background(), "room-1", "sub-1"))
	assert.Equal(t, int64(1), deleted.Load())
}

func TestAuthenticator_LoginFlow(t *testing.T) {
	router := testRouter()
	router.POST("/auth/login", func(c *gin.Context) {
		var creds Credentials
		require.NoError(t, c.ShouldBindJSON(&creds))
		if creds.Password != "secret" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": "token-abc"})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	var notified string
	auth := NewAuthenticator(srv.URL, Credentials{Username: "alice", Password: "secret"},
		func(token string) { notified = token })

	token, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)
	assert.Equal(t, "token-abc", notified)

	bad := NewAuthenticator(srv.URL, Credentials{Username: "alice", Password: "nope"}, nil)
	_, err = bad.Authenticate(context.Background())
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeAuthentication, appErr.Code)
}
