package model

// TrackInfo is the decoded metadata of an encoded track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
}

// Track pairs an encoded track blob with its decoded metadata, as returned
// by a node's track loading API.
type Track struct {
	Encoded string    `json:"track"`
	Info    TrackInfo `json:"info"`
}

// Exception describes a playback error raised by a node.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause,omitempty"`
}

// Load type tags returned by a node's track loading API.
const (
	LoadTrackLoaded    = "TRACK_LOADED"
	LoadPlaylistLoaded = "PLAYLIST_LOADED"
	LoadSearchResult   = "SEARCH_RESULT"
	LoadNoMatches      = "NO_MATCHES"
	LoadFailed         = "LOAD_FAILED"
)

// PlaylistInfo describes the playlist a set of loaded tracks belongs to.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadedTracks is the response shape of a node's track loading API. The
// request flow itself lives outside this package; these types only map the
// stable schema so callers can hand encoded tracks to Play.
type LoadedTracks struct {
	LoadType     string        `json:"loadType"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
	Tracks       []Track       `json:"tracks"`
	Exception    *Exception    `json:"exception,omitempty"`
}
