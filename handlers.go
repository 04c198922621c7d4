package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kwv/seabedmesh/mesh"
)

// newHTTPServer creates an HTTP server with all endpoints. store may be nil.
func newHTTPServer(state *mesh.RunState, store *mesh.Store) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string        `json:"status"`
			Timestamp time.Time     `json:"timestamp"`
			Phase     mesh.RunPhase `json:"phase"`
			HasMap    bool          `json:"hasMap"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Phase:     state.Status().Phase,
			HasMap:    state.Result() != nil,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, state.Status())
	})

	mux.HandleFunc("/map.png", mapHandler(state, mesh.FormatPlot))
	mux.HandleFunc("/map.svg", mapHandler(state, mesh.FormatSVG))
	mux.HandleFunc("/map.geojson", mapHandler(state, mesh.FormatGeoJSON))

	if store != nil {
		mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := store.ListRuns(r.Context())
			if err != nil {
				log.Printf("[HTTP] Error listing runs: %v", err)
				http.Error(w, "Failed to list runs", http.StatusInternalServerError)
				return
			}
			writeJSON(w, runs)
		})
	}

	return mux
}

// mapHandler serves the finished map in format, or 503 until a run finished.
func mapHandler(state *mesh.RunState, format mesh.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := state.RenderedMap(format)
		if errors.Is(err, mesh.ErrNotReady) {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			log.Printf("[HTTP] Error rendering %s map: %v", format, err)
			http.Error(w, "Failed to render map", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing %s map: %v", format, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
