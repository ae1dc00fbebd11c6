package models

import "github.com/saferoute/saferoute/internal/history"

// TripList is a page of the rider's finished trips, newest first.
type TripList struct {
	Items []*history.Trip   `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// ClearTripsResponse reports how many trips were removed.
type ClearTripsResponse struct {
	Deleted int64 `json:"deleted"`
}
