package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"fuzzyracer/racer/internal/control"
)

// ControlDoc describes one input the recogniser or a client can send to a race session.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
	Range       string `json:"range,omitempty"`
	Shortcut    string `json:"shortcut,omitempty"`
}

// defaultControlDocs lists the control fields and lifecycle commands accepted on the
// websocket, REST and gRPC surfaces.
var defaultControlDocs = []ControlDoc{
	{
		ID:          "steering",
		Label:       "Steering",
		Description: "Lateral command from the tilt of the tracked hands. Negative steers left.",
		Field:       "steering",
		Range:       fmt.Sprintf("-%g..%g", control.SteeringLimit, control.SteeringLimit),
		Shortcut:    "Arrow Left / Arrow Right",
	},
	{
		ID:          "speed",
		Label:       "Speed",
		Description: "Target speed command. The car eases toward it instead of jumping.",
		Field:       "speed",
		Range:       fmt.Sprintf("0..%g", control.SpeedLimit),
		Shortcut:    "Arrow Up / Arrow Down",
	},
	{
		ID:          "gesture-brake",
		Label:       "Brake",
		Description: "Closed fist. Scales the speed command down while held on tunings that enable braking.",
		Field:       "gesture",
		Range:       fmt.Sprintf("%d", int(control.GestureBrake)),
		Shortcut:    "Keyboard B",
	},
	{
		ID:          "gesture-open",
		Label:       "Open Hand",
		Description: "Open palm. Fires boost while enough hands are tracked and the tank is above its floor.",
		Field:       "gesture",
		Range:       fmt.Sprintf("%d", int(control.GestureOpen)),
	},
	{
		ID:          "gesture-nitro",
		Label:       "Nitro",
		Description: "Nitro pose. Fires boost under the same conditions as an open hand.",
		Field:       "gesture",
		Range:       fmt.Sprintf("%d", int(control.GestureNitro)),
		Shortcut:    "Shift / Space",
	},
	{
		ID:          "hands",
		Label:       "Hands",
		Description: "Number of hands the recogniser currently tracks.",
		Field:       "hands",
		Range:       fmt.Sprintf("0..%d", control.MaxHands),
	},
	{
		ID:          "start",
		Label:       "Start Race",
		Description: "Begin a fresh run. Ignored while a run is active or after a crash until reset.",
		Shortcut:    "Keyboard Enter",
	},
	{
		ID:          "reset",
		Label:       "Reset Race",
		Description: "Clear the run back to its initial state without starting it.",
		Shortcut:    "Keyboard R",
	},
	{
		ID:          "stop",
		Label:       "Stop Race",
		Description: "Pause the simulation clock for the session.",
		Shortcut:    "Escape",
	},
}

// registerControlDocEndpoints serves the control reference as JSON.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/controls", func(w http.ResponseWriter, r *http.Request) {
		//1.- Sort a copy so concurrent requests never touch the shared slice.
		docs := append([]ControlDoc(nil), defaultControlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
