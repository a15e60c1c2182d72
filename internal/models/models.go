package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LatLng is the backend's [latitude, longitude] pair.
type LatLng [2]float64

func (p LatLng) Coord() Coord { return Coord{Lat: p[0], Lon: p[1]} }

func LatLngOf(c Coord) LatLng { return LatLng{c.Lat, c.Lon} }

// Location is a picked address, persisted between wizard steps.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	PlaceID   string  `json:"placeId,omitempty"`
}

func (l Location) Coord() Coord { return Coord{Lat: l.Latitude, Lon: l.Longitude} }

// ID accepts both string and numeric identifiers from the backend.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusCompleted RideStatus = "completed"
	StatusCanceled  RideStatus = "canceled"
	StatusConfirmed RideStatus = "confirmed"
	StatusCancelled RideStatus = "cancelled"
)

// Identity is the cached {id, email} of the signed-in user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type LoginRequest struct {
	CorporateEmail string `json:"corporateEmail" validate:"required,email"`
	Password       string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token" validate:"required"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

type UserProfile struct {
	ID             string `json:"id" validate:"required"`
	CorporateEmail string `json:"corporateEmail"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Phone          string `json:"phone"`
	CompanyID      string `json:"companyId"`
	AddressID      string `json:"addressId"`
	HasCar         bool   `json:"hasCar"`
}

func (u UserProfile) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Ride is a ride as stored by the backend.
type Ride struct {
	ID                ID       `json:"id"`
	DriverID          string   `json:"driverId"`
	DepartureLatLng   LatLng   `json:"departureLatLng"`
	DestinationLatLng LatLng   `json:"destinationLatLng"`
	Date              FlexTime `json:"date"`
	StartTime         string   `json:"startTime,omitempty"`
	Time              string   `json:"time,omitempty"`
	EndTime           string   `json:"endTime,omitempty"`
	AllSeats          int      `json:"allSeats"`
	AvailableSeats    int      `json:"availableSeats"`
	PricePerPassenger float64  `json:"pricePerPassenger"`
	PassengerIDs      []string `json:"passengerIds,omitempty"`
}

// Departure returns startTime, then the legacy time field.
func (r Ride) Departure() string {
	if r.StartTime != "" {
		return r.StartTime
	}
	return r.Time
}

// RideRequest is the body of create and update ride.
type RideRequest struct {
	DriverID          string   `json:"driverId" validate:"required"`
	DepartureLatLng   LatLng   `json:"departureLatLng"`
	DestinationLatLng LatLng   `json:"destinationLatLng"`
	Date              string   `json:"date" validate:"required"`
	StartTime         string   `json:"startTime" validate:"required"`
	EndTime           string   `json:"endTime" validate:"required"`
	AllSeats          int      `json:"allSeats" validate:"gt=0"`
	PricePerPassenger float64  `json:"pricePerPassenger" validate:"gte=0"`
	PassengerIDs      []string `json:"passengerIds"`
}

type SuggestRidesRequest struct {
	DepartureLatLng   LatLng `json:"departureLatLng"`
	DestinationLatLng LatLng `json:"destinationLatLng"`
	UserID            string `json:"userId,omitempty"`
}

// HistoryRecord is one raw element of GET /ride-history/user/{id}.
type HistoryRecord struct {
	ID        ID         `json:"id"`
	RideID    ID         `json:"rideId,omitempty"`
	Ride      *Ride      `json:"ride" validate:"required"`
	Status    RideStatus `json:"status"`
	Role      Role       `json:"role"`
	CreatedAt FlexTime   `json:"createdAt"`
}

// RideHistoryEntry is a history record joined with its driver profile and
// geocoded addresses, ready for display.
type RideHistoryEntry struct {
	ID               string     `json:"id"`
	RideID           string     `json:"rideId"`
	Role             Role       `json:"role"`
	Status           RideStatus `json:"status"`
	DepartureTime    string     `json:"departureTime"`
	ArrivalTime      string     `json:"arrivalTime"`
	DateDisplay      string     `json:"dateDisplay"`
	PriceDisplay     string     `json:"priceDisplay"`
	DriverID         string     `json:"driverId"`
	DriverName       string     `json:"driverName"`
	DriverPhone      string     `json:"driverPhone,omitempty"`
	DepartureAddress string     `json:"departureAddress"`
	ArrivalAddress   string     `json:"arrivalAddress"`
	MaxPassengers    int        `json:"maxPassengers"`
	AvailableSeats   int        `json:"availableSeats"`
	BookedSeats      int        `json:"bookedSeats"`
	BookingDate      string     `json:"bookingDate"`
	SortTimestamp    time.Time  `json:"sortTimestamp"`
}

// SearchQuery is what the passenger asked for on the search landing page.
type SearchQuery struct {
	Departure   Location  `json:"departure"`
	Destination *Location `json:"destination,omitempty"`
	Passengers  int       `json:"passengers"`
}

// BookedRide is the local record synthesized after a successful booking.
type BookedRide struct {
	ID          string      `json:"id"`
	Ride        Ride        `json:"ride"`
	Search      SearchQuery `json:"search"`
	BookingDate time.Time   `json:"bookingDate"`
	Status      RideStatus  `json:"status"`
}

// PassengerInfo is a passenger shown on the driver's ride details view.
type PassengerInfo struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Phone     string `json:"phone,omitempty"`
	AddressID string `json:"addressId,omitempty"`
}

// FormatPrice renders a price the way the app shows it: "R$ 12,50".
func FormatPrice(v float64) string {
	return "R$ " + strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}

// FormatDate renders a calendar date as dd/mm/yyyy.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}
