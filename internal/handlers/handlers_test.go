package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/chats/internal/middleware"
	"github.com/tullo/chats/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// serve runs one request through a router that authenticates as userID
func serve(method, route, target, body, userID string, h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, route, func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPolicyResponse(t *testing.T) {
	w := serve(http.MethodGet, "/", "/", "", "", func(c *gin.Context) {
		PolicyResponse(c, models.TheyBlockedYou)
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(models.TheyBlockedYou), body["code"])
	assert.Equal(t, models.TheyBlockedYou.Banner(), body["detail"])
	assert.NotEmpty(t, body["error"])
}

func TestPathID(t *testing.T) {
	id := uuid.NewString()
	var got string
	h := func(c *gin.Context) {
		if v, ok := pathID(c, "id", "conversation"); ok {
			got = v
			c.Status(http.StatusNoContent)
		}
	}

	w := serve(http.MethodGet, "/c/:id", "/c/"+id, "", "", h)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, id, got)

	w = serve(http.MethodGet, "/c/:id", "/c/conv-9", "", "", h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid conversation ID", decode(t, w)["error"])
}

func TestConversationState(t *testing.T) {
	tests := []struct {
		dir        models.Direction
		wantStatus string
		wantBy     string
	}{
		{models.NotBlocked, models.ConversationActive, ""},
		{models.YouBlockedThem, models.ConversationBlocked, "me"},
		{models.TheyBlockedYou, models.ConversationBlocked, "other"},
	}
	for _, tt := range tests {
		status, by := conversationState(tt.dir, "me", "other")
		assert.Equal(t, tt.wantStatus, status, tt.dir)
		if tt.wantBy == "" {
			assert.Nil(t, by)
			continue
		}
		require.NotNil(t, by)
		assert.Equal(t, tt.wantBy, *by)
	}
}

func TestSendMessageValidation(t *testing.T) {
	me := uuid.NewString()
	h := NewMessageHandler(nil, nil, nil, nil, nil, 5)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing recipient", `{"message":"hi"}`},
		{"blank message", `{"other_user_id":"` + uuid.NewString() + `","message":"   "}`},
		{"bad recipient id", `{"other_user_id":"user-7","message":"hi"}`},
		{"to self", `{"other_user_id":"` + me + `","message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(http.MethodPost, "/chats/create/", "/chats/create/", tt.body, me, h.SendMessage)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSearchUsersRequiresQuery(t *testing.T) {
	h := NewUserHandler(nil, 20)
	w := serve(http.MethodGet, "/chats/users/search/", "/chats/users/search/?q=%20", "", uuid.NewString(), h.SearchUsers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemberIDs(t *testing.T) {
	ids := memberIDs([]models.User{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, []string{"a", "b"}, ids)
}
