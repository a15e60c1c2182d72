package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/example/ride-client/internal/models"
)

func seg(s string) string { return url.PathEscape(s) }

// Login posts credentials to /auth/login.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error) {
	const op = "login"
	var out models.LoginResponse
	if err := c.do(ctx, op, http.MethodPost, c.authURL, "/auth/login", authNone, req, &out); err != nil {
		return models.LoginResponse{}, err
	}
	if err := c.check(op, out); err != nil {
		return models.LoginResponse{}, err
	}
	return out, nil
}

// Me resolves the identity behind the stored token.
func (c *Client) Me(ctx context.Context) (models.Identity, error) {
	const op = "get_me"
	var out models.Identity
	if err := c.do(ctx, op, http.MethodGet, c.baseURL, "/users/me", authOptional, nil, &out); err != nil {
		return models.Identity{}, err
	}
	if out.ID == "" {
		return models.Identity{}, &DecodeError{Op: op, Err: errMissingID}
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (models.UserProfile, error) {
	const op = "get_user"
	var out models.UserProfile
	if err := c.do(ctx, op, http.MethodGet, c.baseURL, "/users/"+seg(userID), authOptional, nil, &out); err != nil {
		return models.UserProfile{}, err
	}
	if err := c.check(op, out); err != nil {
		return models.UserProfile{}, err
	}
	return out, nil
}

func (c *Client) CreateRide(ctx context.Context, req models.RideRequest) error {
	return c.do(ctx, "create_ride", http.MethodPost, c.baseURL, "/ride", authOptional, req, nil)
}

func (c *Client) UpdateRide(ctx context.Context, rideID string, req models.RideRequest) error {
	return c.do(ctx, "update_ride", http.MethodPut, c.baseURL, "/ride/"+seg(rideID), authRequired, req, nil)
}

func (c *Client) GetRide(ctx context.Context, rideID string) (models.Ride, error) {
	const op = "get_ride"
	var out models.Ride
	if err := c.do(ctx, op, http.MethodGet, c.baseURL, "/ride/"+seg(rideID), authRequired, nil, &out); err != nil {
		return models.Ride{}, err
	}
	return out, nil
}

// SuggestRides returns the rides matching a departure/destination pair.
func (c *Client) SuggestRides(ctx context.Context, req models.SuggestRidesRequest) ([]models.Ride, error) {
	var out struct {
		Data []models.Ride `json:"data"`
	}
	if err := c.do(ctx, "suggest_rides", http.MethodPost, c.baseURL, "/ride/suggest-rides", authOptional, req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ChooseRide books userID onto rideID.
func (c *Client) ChooseRide(ctx context.Context, rideID, userID string) error {
	return c.do(ctx, "choose_ride", http.MethodPut, c.baseURL, "/ride/"+seg(rideID)+"/choose/"+seg(userID), authRequired, nil, nil)
}

func (c *Client) CancelAsDriver(ctx context.Context, rideID, userID string) error {
	return c.do(ctx, "cancel_driver", http.MethodPut, c.baseURL, "/ride/"+seg(rideID)+"/cancel-driver/"+seg(userID), authRequired, nil, nil)
}

func (c *Client) CancelAsPassenger(ctx context.Context, rideID, userID string) error {
	return c.do(ctx, "cancel_passenger", http.MethodPut, c.baseURL, "/ride/"+seg(rideID)+"/cancel-passenger/"+seg(userID), authRequired, nil, nil)
}

// RideHistory returns the raw history of userID. Every record must carry its
// nested ride.
func (c *Client) RideHistory(ctx context.Context, userID string) ([]models.HistoryRecord, error) {
	const op = "ride_history"
	var out []models.HistoryRecord
	if err := c.do(ctx, op, http.MethodGet, c.baseURL, "/ride-history/user/"+seg(userID), authRequired, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if err := c.check(op, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
