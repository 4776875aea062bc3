package menusync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boilerfuel/menu_backend/utils"
)

// uploadBytes is swapped in tests.
var uploadBytes = utils.UploadBytesToGCS

func snapshotArchiveObject(startDate string, runID uint) string {
	return fmt.Sprintf("menu-snapshots/%s/run-%d.json", startDate, runID)
}

// ArchiveSnapshot uploads a run's raw observations as one JSON document and returns the object name.
func ArchiveSnapshot(ctx context.Context, runID uint, startDate string, observations []MenuItemObservation) (string, error) {
	doc := struct {
		RunId        uint                  `json:"run_id"`
		StartDate    string                `json:"start_date"`
		Observations []MenuItemObservation `json:"observations"`
	}{RunId: runID, StartDate: startDate, Observations: observations}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	object := snapshotArchiveObject(startDate, runID)
	if err := uploadBytes(ctx, object, data, "application/json"); err != nil {
		return "", err
	}
	return object, nil
}
