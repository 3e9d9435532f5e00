package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/xray/service/classify"
	natspkg "github.com/brojonat/xray/service/nats"
)

const testAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClassify_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/classify", r.URL.Path)
		assert.Equal(t, testAddress, r.URL.Query().Get("address"))
		assert.Equal(t, "true", r.URL.Query().Get("group"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"signature":"sig-1","type":"TRANSFER"}`, string(body))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signature": "sig-1",
			"type":      "TRANSFER",
			"fee":       "0.000005",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tx, err := client.Classify(context.Background(), json.RawMessage(`{"signature":"sig-1","type":"TRANSFER"}`), Options{Viewer: testAddress, Group: true})
	require.NoError(t, err)
	assert.Equal(t, "sig-1", tx.Signature)
	assert.Equal(t, classify.TypeTransfer, tx.Type)
	assert.Equal(t, "0.000005", tx.Fee.String())
}

func TestClassifyBatch_SendsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		var raws []json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raws))
		out := make([]classify.Transaction, len(raws))
		for i := range raws {
			out[i] = classify.Transaction{Signature: fmt.Sprintf("sig-%d", i)}
		}
		writeJSON(w, http.StatusOK, out)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	txs, err := client.ClassifyBatch(context.Background(), []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`)}, Options{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "sig-1", txs[1].Signature)
}

func TestClassify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: must be valid JSON"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Classify(context.Background(), json.RawMessage(`{`), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be valid JSON")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestGetTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/abc", r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetTransaction(context.Background(), "abc", Options{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestParseErrorResponse_PlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "request failed with status 502: upstream unavailable", err.Error())
	assert.False(t, IsNotFound(err))
}

func TestListAddressTransactions_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/addresses/"+testAddress+"/transactions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "before-sig", q.Get("before"))
		assert.Equal(t, "until-sig", q.Get("until"))
		assert.Equal(t, "25", q.Get("limit"))
		assert.Equal(t, "true", q.Get("group"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":      testAddress,
			"transactions": []classify.Transaction{{Signature: "s1"}},
			"count":        1,
			"next_before":  "s1",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.ListAddressTransactions(context.Background(), testAddress, ListOptions{
		Before: "before-sig",
		Until:  "until-sig",
		Limit:  25,
		Group:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, "s1", page.NextBefore)
}

func TestHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/addresses/"+testAddress+"/history", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":      testAddress,
			"transactions": []classify.Transaction{},
			"count":        0,
			"total":        20,
			"limit":        10,
			"offset":       20,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	h, err := client.History(context.Background(), testAddress, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Total)
	assert.Equal(t, 20, h.Offset)
}

func TestWatch_CreatedAndUpdated(t *testing.T) {
	status := http.StatusCreated
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/watch", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAddress, body["address"])
		interval, _ := body["poll_interval"].(string)
		if interval == "" {
			interval = "30s"
		}

		writeJSON(w, status, map[string]interface{}{
			"address":       testAddress,
			"poll_interval": interval,
			"status":        "active",
			"created_at":    time.Now(),
			"updated_at":    time.Now(),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	watched, err := client.Watch(context.Background(), testAddress, 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, watched.PollInterval)

	status = http.StatusOK
	watched, err = client.Watch(context.Background(), testAddress, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, watched.PollInterval)
	assert.Equal(t, "active", watched.Status)
}

func TestWatch_InvalidPollInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"address":       testAddress,
			"poll_interval": "invalid",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Watch(context.Background(), testAddress, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid poll_interval")
}

func TestUnwatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/api/v1/watch/"+testAddress {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "address is not watched"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	require.NoError(t, client.Unwatch(context.Background(), testAddress))

	err := client.Unwatch(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListAndGetWatched(t *testing.T) {
	entry := map[string]interface{}{
		"address":        testAddress,
		"poll_interval":  "1m0s",
		"status":         "active",
		"last_signature": "sig-9",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/watch":
			writeJSON(w, http.StatusOK, map[string]interface{}{"addresses": []interface{}{entry}, "count": 1})
		case "/api/v1/watch/" + testAddress:
			writeJSON(w, http.StatusOK, entry)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.ListWatched(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, time.Minute, list[0].PollInterval)
	require.NotNil(t, list[0].LastSignature)
	assert.Equal(t, "sig-9", *list[0].LastSignature)

	one, err := client.GetWatched(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, testAddress, one.Address)
}

func TestLabels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"labels": map[string]classify.ProgramInfo{
				classify.SystemProgram: {Name: "SYSTEM PROGRAM", Category: "SYSTEM"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	labels, err := client.Labels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM PROGRAM", labels[classify.SystemProgram].Name)
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/"+testAddress, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {\"address\":%q}\n\n", testAddress)
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprintf(w, "event: transaction\ndata: {\"address\":%q,\"transaction\":{\"signature\":\"s1\"}}\n\n", testAddress)
		fmt.Fprint(w, "event: transaction\ndata: not-json\n\n")
		fmt.Fprintf(w, "event: transaction\ndata: {\"address\":%q,\"transaction\":{\"signature\":\"s2\"}}\n\n", testAddress)
	}))
	defer server.Close()

	client := NewClient(server.URL, &http.Client{Timeout: time.Millisecond}, nil)
	var got []string
	err := client.Stream(context.Background(), testAddress, func(e *natspkg.TransactionEvent) {
		got = append(got, e.Transaction.Signature)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got)
}
