package wecom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfficialClientTokenCaching(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			tokenCalls.Add(1)
			require.Equal(t, "corp-1", r.URL.Query().Get("corpid"))
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "access_token": "tok-1", "expires_in": 7200})
		case "/cgi-bin/message/send":
			require.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	require.NoError(t, client.SendText(context.Background(), "corp-1", "secret", 1000002, "zhang", "hello"))
	require.NoError(t, client.SendText(context.Background(), "corp-1", "secret", 1000002, "zhang", "again"))

	// The second send reuses the cached token.
	require.Equal(t, int32(1), tokenCalls.Load())
}

func TestOfficialClientTokenFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 40013, "errmsg": "invalid corpid"})
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	_, err := client.accessToken(context.Background(), "bad-corp", "secret")
	require.ErrorContains(t, err, "invalid corpid")
}

func TestOfficialClientFetchMedia(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "access_token": "tok", "expires_in": 7200})
		case "/cgi-bin/media/get":
			require.Equal(t, "MEDIA123", r.URL.Query().Get("media_id"))
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		}
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	data, contentType, err := client.FetchMedia(context.Background(), "corp", "secret", "MEDIA123")
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(data))
	require.Equal(t, "image/jpeg", contentType)
}

func TestOfficialClientFetchMediaJSONError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "access_token": "tok", "expires_in": 7200})
		case "/cgi-bin/media/get":
			// Errors come back 200 with a JSON body.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"errcode": 40007, "errmsg": "invalid media_id"})
		}
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	_, _, err := client.FetchMedia(context.Background(), "corp", "secret", "bad")
	require.ErrorContains(t, err, "invalid media_id")
}

func TestOfficialClientUploadImage(t *testing.T) {
	t.Parallel()

	imagePath := t.TempDir() + "/pic.png"
	require.NoError(t, os.WriteFile(imagePath, []byte("png-bytes"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "access_token": "tok", "expires_in": 7200})
		case "/cgi-bin/media/upload":
			require.Equal(t, "image", r.URL.Query().Get("type"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, header, err := r.FormFile("media")
			require.NoError(t, err)
			require.Equal(t, "pic.png", header.Filename)
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "media_id": "UPLOADED1"})
		}
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	mediaID, err := client.UploadImage(context.Background(), "corp", "secret", imagePath)
	require.NoError(t, err)
	require.Equal(t, "UPLOADED1", mediaID)
}

func TestOfficialClientSendFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "access_token": "tok", "expires_in": 7200})
		case "/cgi-bin/message/send":
			json.NewEncoder(w).Encode(map[string]any{"errcode": 81013, "errmsg": "user not found"})
		}
	}))
	defer server.Close()

	client := newOfficialClient(server.URL, nil)

	err := client.SendImage(context.Background(), "corp", "secret", 1, "nobody", "M1")
	require.ErrorContains(t, err, "user not found")
}
