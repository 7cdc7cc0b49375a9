// Package peer queries remote consensus nodes for their model's prediction.
package peer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrMalformedResponse = errors.New("malformed peer response")

const predictPath = "/predict"

// Response is a peer's answer: the id of the model that produced the
// prediction, so the caller can weight it by the ledger.
type Response struct {
	ModelID    string    `json:"model_id"`
	Prediction []float64 `json:"prediction"`
}

// Transport sends features to a peer address and returns its answer.
type Transport interface {
	Query(ctx context.Context, address string, features []float64) (Response, error)
}

// RESTTransport queries peers over HTTP.
type RESTTransport struct {
	rest *resty.Client
}

type predictReq struct {
	Features []float64 `json:"features"`
}

// NewREST creates an HTTP peer transport bounded by timeout.
func NewREST(timeout time.Duration) *RESTTransport {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &RESTTransport{rest: r}
}

func (t *RESTTransport) Query(ctx context.Context, address string, features []float64) (Response, error) {
	var out Response
	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(predictReq{Features: features}).
		SetResult(&out).
		Post(strings.TrimRight(address, "/") + predictPath)
	if err != nil {
		return Response{}, fmt.Errorf("peer %s: request failed: %w", address, err)
	}

	if resp.IsError() {
		return Response{}, fmt.Errorf("%w: peer %s returned status %d", ErrMalformedResponse, address, resp.StatusCode())
	}
	if out.ModelID == "" {
		return Response{}, fmt.Errorf("%w: peer %s sent no model_id", ErrMalformedResponse, address)
	}
	if len(out.Prediction) == 0 {
		return Response{}, fmt.Errorf("%w: peer %s sent an empty prediction", ErrMalformedResponse, address)
	}
	for _, v := range out.Prediction {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Response{}, fmt.Errorf("%w: peer %s sent a non-finite prediction", ErrMalformedResponse, address)
		}
	}
	return out, nil
}
