package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lavabridge/model"
)

func TestLoadTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loadtracks" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "pw" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("identifier") {
		case "ytsearch:test":
			w.Write([]byte(`{
				"loadType": "SEARCH_RESULT",
				"playlistInfo": null,
				"tracks": [
					{"track": "QAAA...", "info": {"identifier": "dQw4w9WgXcQ", "isSeekable": true, "author": "Test", "length": 212000, "isStream": false, "position": 0, "title": "Test Track", "uri": "https://example.com/v", "sourceName": "youtube"}}
				]
			}`))
		default:
			w.Write([]byte(`{"loadType": "NO_MATCHES", "tracks": []}`))
		}
	}))
	defer srv.Close()

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("search result", func(t *testing.T) {
		loaded, err := LoadTracks(context.Background(), addr, "pw", "ytsearch:test")
		if err != nil {
			t.Fatalf("LoadTracks failed: %v", err)
		}
		if loaded.LoadType != model.LoadSearchResult {
			t.Errorf("Expected SEARCH_RESULT, got %s", loaded.LoadType)
		}
		if len(loaded.Tracks) != 1 {
			t.Fatalf("Expected 1 track, got %d", len(loaded.Tracks))
		}
		track := loaded.Tracks[0]
		if track.Encoded != "QAAA..." {
			t.Errorf("Expected encoded blob, got %q", track.Encoded)
		}
		if track.Info.Title != "Test Track" || track.Info.Length != 212000 {
			t.Errorf("Unexpected track info: %+v", track.Info)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		loaded, err := LoadTracks(context.Background(), addr, "pw", "gibberish")
		if err != nil {
			t.Fatalf("LoadTracks failed: %v", err)
		}
		if loaded.LoadType != model.LoadNoMatches {
			t.Errorf("Expected NO_MATCHES, got %s", loaded.LoadType)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		if _, err := LoadTracks(context.Background(), addr, "wrong", "x"); err == nil {
			t.Error("Expected an error for rejected credentials")
		}
	})
}
