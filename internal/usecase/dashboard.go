package usecase

import (
	"github.com/example/facewatch/internal/imaging"
	"github.com/example/facewatch/internal/resultlog"
)

// KnownFaceView is a known face as shown on the dashboard.
type KnownFaceView struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// DashboardSummary aggregates what the dashboard polls for.
type DashboardSummary struct {
	Total              int                         `json:"total"`
	TotalFacesDetected int                         `json:"total_faces_detected"`
	KnownFacesCount    int                         `json:"known_faces_count"`
	KnownFaces         []KnownFaceView             `json:"known_faces"`
	Results            []resultlog.DetectionResult `json:"results"`
}

// Dashboard returns the result log totals, the known faces with thumbnails and
// the limit most recent results. A limit below one selects the configured default.
func (uc *RecognitionUseCase) Dashboard(limit int) *DashboardSummary {
	if limit < 1 {
		limit = uc.dashboardLimit
	}

	known := uc.known.LookupAll()
	views := make([]KnownFaceView, 0, len(known))
	for _, k := range known {
		view := KnownFaceView{Name: k.Name}
		if len(k.Thumbnail) > 0 {
			view.Image = imaging.DataURL(k.Thumbnail)
		}
		views = append(views, view)
	}

	return &DashboardSummary{
		Total:              uc.results.Len(),
		TotalFacesDetected: uc.results.TotalFaces(),
		KnownFacesCount:    len(known),
		KnownFaces:         views,
		Results:            uc.results.Recent(limit),
	}
}

// HealthStatus is reported by the health endpoint.
type HealthStatus struct {
	Status     string `json:"status"`
	KnownFaces int    `json:"known_faces"`
}

// Health reports liveness and the number of known faces.
func (uc *RecognitionUseCase) Health() HealthStatus {
	return HealthStatus{Status: "ok", KnownFaces: uc.known.Len()}
}
