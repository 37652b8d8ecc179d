package story

import (
	"net/http"

	storyUC "github.com/tsuchiya2/storypipe/internal/usecase/story"
)

// Register registers the read-only story HTTP handler with the given mux.
// Stories are written by the discovery/scraper/summariser pipeline, not by
// this API, so there is only a detail route here.
func Register(mux *http.ServeMux, svc *storyUC.Service) {
	mux.Handle("GET    /stories/", GetHandler{svc})
}
