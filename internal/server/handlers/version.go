package handlers

import "net/http"

// VersionResponse is the body returned by GET /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var versionInfo = VersionResponse{Version: "dev"}

// SetVersionInfo records the build metadata served by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo)
}
