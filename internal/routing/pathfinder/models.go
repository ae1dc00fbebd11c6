package pathfinder

// alternativesRequest is the POST /alternatives request body.
type alternativesRequest struct {
	Origin          point  `json:"origin"`
	Destination     point  `json:"destination"`
	Mode            string `json:"mode"`
	MaxAlternatives int    `json:"maxAlternatives"`
}

type point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// alternativesResponse is the POST /alternatives response body.
type alternativesResponse struct {
	Routes []route `json:"routes"`
}

type route struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	DistanceKm  float64 `json:"distanceKm"`
	DurationMin int     `json:"durationMin"`
	Geometry    string  `json:"geometry,omitempty"`
	Factors     factors `json:"factors"`
}

// factors are the per-route safety factors in percent.
type factors struct {
	Lighting     int `json:"lighting"`
	CrowdDensity int `json:"crowdDensity"`
	RiskZones    int `json:"riskZones"`
	TimeOfDay    int `json:"timeOfDay"`
}

// errorResponse is the body of a non-2xx response.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Error codes reported by the path-finding service.
const (
	errorCodeNoRoute      = "NO_ROUTE"
	errorCodeInvalidPoint = "INVALID_POINT"
)
