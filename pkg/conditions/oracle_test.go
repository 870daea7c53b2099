package conditions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, answer string, seen *map[string]any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)

			return
		}

		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []any{
				map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": answer},
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	return server
}

func TestOpenAIOracle_Judge(t *testing.T) {
	var request map[string]any

	server := chatServer(t, "Yes.", &request)
	oracle := NewOpenAIOracle(OpenAIOracleConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "test-model"})

	passed, err := oracle.Judge(t.Context(), "I want to cancel", "wants to cancel")
	require.NoError(t, err)
	assert.True(t, passed)

	assert.Equal(t, "test-model", request["model"])
	messages, ok := request["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].(map[string]any)["content"], "wants to cancel")
	assert.Equal(t, "I want to cancel", messages[1].(map[string]any)["content"])
}

func TestOpenAIOracle_No(t *testing.T) {
	server := chatServer(t, "no", nil)
	oracle := NewOpenAIOracle(OpenAIOracleConfig{APIKey: "test", BaseURL: server.URL + "/v1"})

	passed, err := oracle.Judge(t.Context(), "hello", "wants to cancel")
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestOpenAIOracle_UnusableAnswer(t *testing.T) {
	server := chatServer(t, "perhaps", nil)
	oracle := NewOpenAIOracle(OpenAIOracleConfig{APIKey: "test", BaseURL: server.URL + "/v1"})

	_, err := oracle.Judge(t.Context(), "hello", "wants to cancel")
	require.ErrorIs(t, err, ErrOracleAnswer)
}

func TestOpenAIOracle_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	oracle := NewOpenAIOracle(OpenAIOracleConfig{APIKey: "test", BaseURL: server.URL + "/v1"})

	_, err := oracle.Judge(t.Context(), "hello", "wants to cancel")
	require.Error(t, err)
}
