package veo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		Model:        "veo-3.1-generate-preview",
		PollInterval: time.Millisecond,
	})
}

func TestGenerate_InlineVideo(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/models/veo-3.1-generate-preview:predictLongRunning", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)
		require.Equal(t, "a prompt", req.Instances[0].Prompt)
		require.Len(t, req.Instances[0].ReferenceImages, 1)
		require.Equal(t, "asset", req.Instances[0].ReferenceImages[0].ReferenceType)
		require.Equal(t, "image/png", req.Instances[0].ReferenceImages[0].Image.MimeType)
		require.Equal(t, 8, req.Parameters.DurationSeconds)
		require.Equal(t, "1080p", req.Parameters.Resolution)
		require.False(t, req.Parameters.GenerateAudio)

		fmt.Fprint(w, `{"name": "operations/op-1", "done": false}`)
	})
	mux.HandleFunc("/operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			fmt.Fprint(w, `{"name": "operations/op-1", "done": false}`)
			return
		}
		encoded := base64.StdEncoding.EncodeToString([]byte("video-bytes"))
		fmt.Fprintf(w, `{
			"name": "operations/op-1",
			"done": true,
			"response": {"generateVideoResponse": {"generatedSamples": [
				{"video": {"bytesBase64Encoded": %q, "mimeType": "video/mp4"}}
			]}}
		}`, encoded)
	})

	client := testClient(t, mux)
	video, err := client.Generate(context.Background(), &GenerateRequest{
		Prompt:          "a prompt",
		ImageData:       []byte("image-bytes"),
		ImageMIMEType:   "image/png",
		DurationSeconds: 8,
		Resolution:      "1080p",
	})
	require.NoError(t, err)
	require.Equal(t, []byte("video-bytes"), video.Data)
	require.Equal(t, "video/mp4", video.MIMEType)
	require.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestGenerate_DownloadsVideoURI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/veo-3.1-generate-preview:predictLongRunning", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"name": "operations/op-2",
			"done": true,
			"response": {"generateVideoResponse": {"generatedSamples": [
				{"video": {"uri": "files/video-77"}}
			]}}
		}`)
	})
	mux.HandleFunc("/files/video-77", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("downloaded-bytes"))
	})

	client := testClient(t, mux)
	video, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "p", DurationSeconds: 8})
	require.NoError(t, err)
	require.Equal(t, []byte("downloaded-bytes"), video.Data)
	require.Equal(t, "video/mp4", video.MIMEType)
}

func TestGenerate_OperationError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"name": "operations/op-3",
			"done": true,
			"error": {"code": 3, "message": "unsupported reference image"}
		}`)
	}))

	_, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 0, apiErr.StatusCode)
	require.Equal(t, 3, apiErr.Code)
	require.Contains(t, apiErr.Message, "unsupported")
}

func TestGenerate_HTTPError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": 429, "message": "quota exceeded"}}`)
	}))

	_, err := client.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "quota")
}

func TestGenerate_CancelledDuringPoll(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "operations/op-4", "done": false}`)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, &GenerateRequest{Prompt: "p"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPromptFor(t *testing.T) {
	require.Contains(t, PromptFor("female_clothes"), "female clothing")
	require.Contains(t, PromptFor("MALE_UNDERWEAR"), "male underwear")
	require.Equal(t, fallbackPrompt, PromptFor("garden_furniture"))
	require.Equal(t, fallbackPrompt, PromptFor(""))
}

func TestImageMIMEType(t *testing.T) {
	mime, ok := ImageMIMEType("toys/31000012_bear.PNG")
	require.True(t, ok)
	require.Equal(t, "image/png", mime)

	mime, ok = ImageMIMEType("a/b.jpeg")
	require.True(t, ok)
	require.Equal(t, "image/jpeg", mime)

	_, ok = ImageMIMEType("a/b.gif")
	require.False(t, ok)
}
