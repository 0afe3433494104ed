// Package transfer sends passport exchange documents to another DMP
// service's import endpoint.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ImportPath is the remote endpoint a document is posted to.
const ImportPath = "/api/v1/dmp/import"

var ErrUnexpectedResponse = errors.New("unexpected response from remote importer")

// Config configures a transfer client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Receipt is the remote importer's acceptance.
type Receipt struct {
	Message     string `json:"message"`
	PatientGUID string `json:"patientGuid"`
}

// RejectedError is returned when the remote importer refuses the document.
// Details keeps the remote's error order.
type RejectedError struct {
	StatusCode int      `json:"-"`
	Message    string   `json:"error"`
	Stage      string   `json:"stage,omitempty"`
	Details    []string `json:"details,omitempty"`
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("remote rejected document (HTTP %d): %s", e.StatusCode, e.Message)
	if e.Stage != "" {
		msg += fmt.Sprintf(" [%s, %d errors]", e.Stage, len(e.Details))
	}
	return msg
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: client, logger: logger}
}

// Push posts doc to the remote importer. A 200 yields the receipt; a 4xx or
// a final 5xx yields *RejectedError.
func (c *Client) Push(ctx context.Context, doc any) (*Receipt, error) {
	var receipt Receipt
	var rejection RejectedError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(doc).
		SetResult(&receipt).
		SetError(&rejection).
		Post(ImportPath)
	if err != nil {
		c.logger.Error().Err(err).Str("url", c.http.BaseURL+ImportPath).Msg("transfer failed")
		return nil, fmt.Errorf("post %s: %w", ImportPath, err)
	}

	if resp.IsError() {
		rejection.StatusCode = resp.StatusCode()
		if rejection.Message == "" {
			rejection.Message = http.StatusText(resp.StatusCode())
		}
		c.logger.Warn().
			Int("status_code", rejection.StatusCode).
			Str("stage", rejection.Stage).
			Int("errors", len(rejection.Details)).
			Msg("transfer rejected")
		return nil, &rejection
	}

	if resp.StatusCode() != http.StatusOK || receipt.PatientGUID == "" {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnexpectedResponse, resp.StatusCode())
	}

	c.logger.Info().
		Str("patient_guid", receipt.PatientGUID).
		Msg("transfer accepted")
	return &receipt, nil
}
