package store

// Record is the persisted unit of the store and the read contract of the serving layer.
type Record struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Address         string `json:"address"`
	Location        string `json:"location"`
	OriginalComment string `json:"originalComment"`
	ActionTaken     string `json:"actionTaken,omitempty"`

	AITitle    string `json:"aiTitle"`
	AIAnalysis string `json:"aiAnalysis"`
	Metadata   string `json:"metadata"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// GeocodeAttempts counts failed geocode attempts. Only tracked when an attempt cap is configured.
	GeocodeAttempts int `json:"geocodeAttempts,omitempty"`
}

// HasCoordinates reports whether the geocoding pass has completed for r.
func (r *Record) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Described reports whether the description pass has run for r (placeholders count).
func (r *Record) Described() bool {
	return r.AITitle != "" || r.AIAnalysis != ""
}
