package handlers

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Class string `json:"class"`
}

type ReportResponse struct {
	Class           string `json:"class"`
	Report          string `json:"report"`
	Recommendations string `json:"recommendations"`
}

type InfoResponse struct {
	Class string `json:"class"`
	Info  string `json:"info"`
}

type LabelsResponse struct {
	Version   string   `json:"version,omitempty"`
	ImageSize int      `json:"image_size"`
	Layout    string   `json:"layout"`
	Classes   []string `json:"classes"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
