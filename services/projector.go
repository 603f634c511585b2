package services

import "github.com/yeremiapane/inventory-sync/models"

// ParameterMap is the parameter object sent to a workflow.
type ParameterMap map[string]models.Value

// reservedParameterNames are parameter keys the workflow platform uses itself;
// columns with these names are renamed on the way out.
var reservedParameterNames = map[string]string{
	"id":          "record_id",
	"workflow_id": "source_workflow_id",
	"parameters":  "source_parameters",
	"app_id":      "source_app_id",
	"bot_id":      "source_bot_id",
}

// ParameterName returns the outbound key for a column.
func ParameterName(column string) string {
	if renamed, ok := reservedParameterNames[column]; ok {
		return renamed
	}
	return column
}

// Project picks the selected fields out of a row snapshot. Fields missing
// from the snapshot are sent as null and reported as warnings.
func Project(payload models.RowSnapshot, selectedFields []string) (ParameterMap, []ProjectionWarning) {
	params := make(ParameterMap, len(selectedFields))
	var warnings []ProjectionWarning

	for _, field := range selectedFields {
		v, ok := payload.Get(field)
		if !ok {
			warnings = append(warnings, ProjectionWarning{Field: field})
			v = models.Null()
		}
		params[ParameterName(field)] = v
	}
	return params, warnings
}
