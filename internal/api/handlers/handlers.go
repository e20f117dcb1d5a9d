// Package handlers implements the HTTP handlers for the mjnet server.
// All handlers delegate to the network services; they only translate
// between HTTP and service inputs, and map service errors to statuses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mjnet/mjnet/internal/discovery"
	"github.com/mjnet/mjnet/internal/network"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/internal/store"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Registry  registry.Registry
	Discovery *discovery.Service
	Friends   *network.FriendService
	Comms     *network.CommsService
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, reg registry.Registry, disc *discovery.Service, friends *network.FriendService, comms *network.CommsService) *Handlers {
	return &Handlers{
		Store:     s,
		Registry:  reg,
		Discovery: disc,
		Friends:   friends,
		Comms:     comms,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service-layer errors onto HTTP statuses:
// validation failures are the caller's fault, missing entities are 404,
// and lost optimistic-concurrency races are 409.
func respondServiceError(w http.ResponseWriter, err error) {
	var (
		validation *network.ValidationError
		notFound   *store.ErrNotFound
		conflict   *store.ErrConflict
	)
	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
