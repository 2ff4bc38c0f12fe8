package faxing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

// fakeIFax is an in-process stand-in for the iFax API. Submitted job number
// N walks through scripts[N] one poll at a time; jobs past the last script
// reuse it.
type fakeIFax struct {
	t       *testing.T
	scripts [][]string

	sends    int
	polls    int
	lastSend map[string]any
}

func (f *fakeIFax) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/customer/fax-send", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(f.t, "secret-key", r.Header.Get("accessToken"))
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastSend))
		f.sends++
		f.polls = 0
		fmt.Fprintf(w, `{"status":1,"message":"ok","data":{"jobId":"job-%d"}}`, f.sends)
	})
	mux.HandleFunc("/customer/fax-status", func(w http.ResponseWriter, r *http.Request) {
		script := f.scripts[len(f.scripts)-1]
		if f.sends-1 < len(f.scripts) {
			script = f.scripts[f.sends-1]
		}
		status := script[len(script)-1]
		if f.polls < len(script) {
			status = script[f.polls]
		}
		f.polls++
		fmt.Fprintf(w, `{"status":1,"message":"ok","data":{"faxStatus":%q,"message":"line busy"}}`, status)
	})
	return mux
}

func newTestSender(t *testing.T, fake *fakeIFax) *IFaxSender {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	return NewIFaxSender(
		&config.FaxConfig{IFaxAPIKey: "secret-key", SourceName: "Vellum", SourceNumber: "+15550100"},
		WithIFaxBaseURL(server.URL),
		WithIFaxPollInterval(time.Millisecond),
	)
}

func TestIFaxSender_Send(t *testing.T) {
	message := Message{
		Recipient: Recipient{Name: "Ada", Number: "+15550199"},
		Subject:   "Statement",
		Body:      "see attached",
		Documents: []Document{{Filename: "statement.pdf", Data: []byte("%PDF-1.4")}},
	}

	t.Run("submits the job and waits it out", func(t *testing.T) {
		fake := &fakeIFax{t: t, scripts: [][]string{{"sending", "sending", "success"}}}
		sender := newTestSender(t, fake)

		require.NoError(t, sender.Send(context.Background(), message))
		assert.Equal(t, 1, fake.sends)
		assert.Equal(t, 3, fake.polls)

		assert.Equal(t, "+15550100", fake.lastSend["callerId"])
		assert.Equal(t, "Vellum", fake.lastSend["from_name"])
		assert.Equal(t, "+15550199", fake.lastSend["faxNumber"])

		docs, ok := fake.lastSend["faxData"].([]any)
		require.True(t, ok)
		require.Len(t, docs, 1)
		doc := docs[0].(map[string]any)
		assert.Equal(t, "statement.pdf", doc["fileName"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), doc["fileData"])
	})

	t.Run("resubmits a failed job", func(t *testing.T) {
		fake := &fakeIFax{t: t, scripts: [][]string{{"failed"}, {"success"}}}
		sender := newTestSender(t, fake)

		require.NoError(t, sender.Send(context.Background(), message))
		assert.Equal(t, 2, fake.sends)
	})

	t.Run("gives up after the retry limit", func(t *testing.T) {
		fake := &fakeIFax{t: t, scripts: [][]string{{"failed"}}}
		sender := newTestSender(t, fake)

		err := sender.Send(context.Background(), message)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line busy")
		assert.Equal(t, 4, fake.sends)
	})

	t.Run("url documents pass through without encoding", func(t *testing.T) {
		fake := &fakeIFax{t: t, scripts: [][]string{{"success"}}}
		sender := newTestSender(t, fake)

		err := sender.Send(context.Background(), Message{
			Recipient: Recipient{Number: "+15550199"},
			Documents: []Document{{URL: "https://files.example.com/doc.pdf"}},
		})

		require.NoError(t, err)
		docs := fake.lastSend["faxData"].([]any)
		doc := docs[0].(map[string]any)
		assert.Equal(t, "document_1.pdf", doc["fileName"])
		assert.Equal(t, "https://files.example.com/doc.pdf", doc["fileUrl"])
		assert.NotContains(t, doc, "fileData")
	})

	t.Run("rejects messages without a recipient number", func(t *testing.T) {
		sender := NewIFaxSender(&config.FaxConfig{IFaxAPIKey: "secret-key"})
		assert.Error(t, sender.Send(context.Background(), Message{Subject: "x"}))
	})

	t.Run("rejects empty documents", func(t *testing.T) {
		sender := NewIFaxSender(&config.FaxConfig{IFaxAPIKey: "secret-key"})
		err := sender.Send(context.Background(), Message{
			Recipient: Recipient{Number: "+15550199"},
			Documents: []Document{{Filename: "empty.pdf"}},
		})
		assert.Error(t, err)
	})

	t.Run("api rejection surfaces the provider message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status":0,"message":"invalid access token"}`)
		}))
		t.Cleanup(server.Close)

		sender := NewIFaxSender(
			&config.FaxConfig{IFaxAPIKey: "bad-key"},
			WithIFaxBaseURL(server.URL),
		)

		err := sender.Send(context.Background(), Message{Recipient: Recipient{Number: "+15550199"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid access token")
	})
}

func TestNewSender(t *testing.T) {
	t.Run("unknown provider is rejected", func(t *testing.T) {
		_, err := NewSender(&config.FaxConfig{Provider: "telegraph"}, zap.NewNop())
		assert.Error(t, err)
	})
}
