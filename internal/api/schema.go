package api

import (
	"net/http"

	"github.com/duckmesh/askdb/internal/catalog"
)

type schemaResponse struct {
	Dialect string          `json:"dialect"`
	Tables  []catalog.Table `json:"tables"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not loaded", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Dialect: deps.Catalog.Dialect(),
		Tables:  deps.Catalog.Tables(),
	})
}
