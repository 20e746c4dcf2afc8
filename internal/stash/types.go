package stash

// Scene is one catalog record.
type Scene struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Files []VideoFile `json:"files"`
	Paths ScenePaths  `json:"paths"`
	Tags  []Tag       `json:"tags"`
}

// VideoFile is one candidate file backing a scene.
type VideoFile struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Format    string  `json:"format"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate"`
}

// ScenePaths holds server URLs for a scene's assets.
type ScenePaths struct {
	Stream string `json:"stream"`
	Sprite string `json:"sprite"`
	VTT    string `json:"vtt"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TagIDs returns the scene's tag ids in catalog order.
func (s Scene) TagIDs() []string {
	ids := make([]string, 0, len(s.Tags))
	for _, tag := range s.Tags {
		ids = append(ids, tag.ID)
	}
	return ids
}

// SceneFilter narrows a scene query.
type SceneFilter struct {
	// PathRegex matches scene file paths with MATCHES_REGEX when set.
	PathRegex string
	// ExcludeTagID drops scenes carrying this tag (depth 0) when set.
	ExcludeTagID string
}

// PageRequest describes one page of a sorted query. Page is 1-based.
type PageRequest struct {
	Page      int
	PerPage   int
	Sort      string
	Direction string
}

// Page is one page of results plus the total count of matching scenes.
type Page struct {
	Count  int
	Scenes []Scene
}
